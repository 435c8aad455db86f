package event

/*
 * CM0  - Simulated time event scheduler
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Callback runs when an event's time arrives.
type Callback = func(arg int)

// Events are kept as a delta list: each entry's time is relative to the
// one before it, so Advance only ever touches the head.
type event struct {
	time  int // Cycles until this event, relative to prev
	owner any // Device that queued the event
	cb    Callback
	arg   int
	prev  *event
	next  *event
}

// Queue is one simulated time line. The CPU driver advances it once per
// retired instruction.
type Queue struct {
	head *event
	tail *event
}

func NewQueue() *Queue {
	return &Queue{}
}

// Add schedules cb to run after time cycles. A zero time runs it now.
func (q *Queue) Add(owner any, cb Callback, time int, arg int) {
	if time == 0 {
		cb(arg)
		return
	}

	ev := &event{owner: owner, cb: cb, time: time, arg: arg}

	ptr := q.head
	if ptr == nil {
		q.head = ev
		q.tail = ev
		return
	}

	// Walk forward converting to relative time until the slot is found.
	for ptr != nil {
		if ev.time <= ptr.time {
			ptr.time -= ev.time
			ev.prev = ptr.prev
			ev.next = ptr
			ptr.prev = ev
			if ev.prev != nil {
				ev.prev.next = ev
			} else {
				q.head = ev
			}
			return
		}
		ev.time -= ptr.time
		ptr = ptr.next
	}

	ev.prev = q.tail
	q.tail.next = ev
	q.tail = ev
}

// Cancel removes the first queued event matching owner and arg.
func (q *Queue) Cancel(owner any, arg int) {
	for ptr := q.head; ptr != nil; ptr = ptr.next {
		if ptr.owner != owner || ptr.arg != arg {
			continue
		}
		if ptr.next != nil {
			// Give remaining time to the follower.
			ptr.next.time += ptr.time
			ptr.next.prev = ptr.prev
		} else {
			q.tail = ptr.prev
		}
		if ptr.prev != nil {
			ptr.prev.next = ptr.next
		} else {
			q.head = ptr.next
		}
		return
	}
}

// Empty reports whether anything is scheduled.
func (q *Queue) Empty() bool {
	return q.head == nil
}

// Advance moves time forward t cycles, firing every event that comes due.
func (q *Queue) Advance(t int) {
	ptr := q.head
	if ptr == nil {
		return
	}
	ptr.time -= t
	for ptr != nil && ptr.time <= 0 {
		carry := ptr.time // Overshoot flows into the next event
		cb, arg := ptr.cb, ptr.arg
		q.head = ptr.next
		if q.head != nil {
			q.head.prev = nil
		} else {
			q.tail = nil
		}
		cb(arg)
		// Applied after the callback so an event it reschedules also
		// receives the overshoot.
		if q.head != nil {
			q.head.time += carry
		}
		ptr = q.head
	}
}
