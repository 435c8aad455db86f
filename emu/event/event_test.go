/*
 * CM0 - Event scheduler test cases.
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

package event

import "testing"

type owner struct {
	fired []int
}

func (o *owner) cb(arg int) {
	o.fired = append(o.fired, arg)
}

func TestImmediate(t *testing.T) {
	q := NewQueue()
	o := &owner{}
	q.Add(o, o.cb, 0, 7)
	if len(o.fired) != 1 || o.fired[0] != 7 {
		t.Errorf("zero time event not run immediately: %v", o.fired)
	}
	if !q.Empty() {
		t.Error("queue should stay empty")
	}
}

func TestOrdering(t *testing.T) {
	q := NewQueue()
	o := &owner{}
	q.Add(o, o.cb, 30, 3)
	q.Add(o, o.cb, 10, 1)
	q.Add(o, o.cb, 20, 2)
	for i := 0; i < 30; i++ {
		q.Advance(1)
	}
	if len(o.fired) != 3 || o.fired[0] != 1 || o.fired[1] != 2 || o.fired[2] != 3 {
		t.Errorf("events fired out of order: %v", o.fired)
	}
}

func TestAdvanceLargeStep(t *testing.T) {
	q := NewQueue()
	o := &owner{}
	q.Add(o, o.cb, 5, 1)
	q.Add(o, o.cb, 6, 2)
	q.Advance(10)
	if len(o.fired) != 2 {
		t.Errorf("overshoot must fire both events: %v", o.fired)
	}
}

func TestCancel(t *testing.T) {
	q := NewQueue()
	o := &owner{}
	q.Add(o, o.cb, 10, 1)
	q.Add(o, o.cb, 20, 2)
	q.Cancel(o, 1)
	for i := 0; i < 20; i++ {
		q.Advance(1)
	}
	if len(o.fired) != 1 || o.fired[0] != 2 {
		t.Errorf("cancel left %v", o.fired)
	}
}

func TestCancelHeadKeepsTiming(t *testing.T) {
	q := NewQueue()
	o := &owner{}
	q.Add(o, o.cb, 10, 1)
	q.Add(o, o.cb, 20, 2)
	q.Cancel(o, 1)
	q.Advance(19)
	if len(o.fired) != 0 {
		t.Errorf("second event fired early: %v", o.fired)
	}
	q.Advance(1)
	if len(o.fired) != 1 {
		t.Errorf("second event missing: %v", o.fired)
	}
}

func TestRescheduleFromCallback(t *testing.T) {
	q := NewQueue()
	o := &owner{}
	count := 0
	var tick Callback
	tick = func(arg int) {
		count++
		if count < 3 {
			q.Add(o, tick, 5, arg)
		}
	}
	q.Add(o, tick, 5, 0)
	for i := 0; i < 15; i++ {
		q.Advance(1)
	}
	if count != 3 {
		t.Errorf("periodic event fired %d times expected 3", count)
	}
}
