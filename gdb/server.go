/*
   CM0: GDB remote serial protocol server.

   Copyright (c) 2024, Richard Cornwell

   Permission is hereby granted, free of charge, to any person obtaining a
   copy of this software and associated documentation files (the "Software"),
   to deal in the Software without restriction, including without limitation
   the rights to use, copy, modify, merge, publish, distribute, sublicense,
   and/or sell copies of the Software, and to permit persons to whom the
   Software is furnished to do so, subject to the following conditions:

   The above copyright notice and this permission notice shall be included in
   all copies or substantial portions of the Software.

   THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
   IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
   FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.  IN NO EVENT SHALL
   RICHARD CORNWELL BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
   IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
   CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.

*/

// Package gdb serves the GDB remote serial protocol over TCP. One client
// at a time; the debugger drives the core through master packets and the
// bus debug paths, so debug access never advances simulated time.
package gdb

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/rcornwell/cortex-m0/emu/core"
	"github.com/rcornwell/cortex-m0/emu/master"
)

// bkptOpcode is the halfword planted for software breakpoints.
const bkptOpcode = 0xbeab

type Server struct {
	wg       sync.WaitGroup
	listener net.Listener
	shutdown chan struct{}
	core     *core.Core
	master   chan master.Packet

	mu     sync.Mutex
	breaks map[uint32]uint16 // Saved halfwords under planted BKPTs
	halted chan struct{}     // Signaled when the core stops
	conn   net.Conn
}

// Start listens on port and serves debugger connections until Stop.
func Start(port int, c *core.Core, masterChan chan master.Packet) (*Server, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
	if err != nil {
		return nil, fmt.Errorf("gdb: listen: %w", err)
	}
	s := &Server{
		listener: listener,
		shutdown: make(chan struct{}),
		core:     c,
		master:   masterChan,
		breaks:   make(map[uint32]uint16),
		halted:   make(chan struct{}, 1),
	}
	c.CPU.SetBreakHandler(func(pc uint32) {
		slog.Debug(fmt.Sprintf("gdb: breakpoint at %08x", pc))
	})
	c.OnHalt = func() {
		select {
		case s.halted <- struct{}{}:
		default:
		}
	}
	slog.Info("GDB server listening on " + listener.Addr().String())

	s.wg.Add(1)
	go s.acceptConnections()
	return s, nil
}

// Stop closes the listener and waits for the handlers to drain.
func (s *Server) Stop() {
	close(s.shutdown)
	s.listener.Close()
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) acceptConnections() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				slog.Warn("gdb: accept: " + err.Error())
				continue
			}
		}
		slog.Info("GDB client connected from " + conn.RemoteAddr().String())
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		// The core waits for the debugger.
		s.master <- master.Packet{Msg: master.Stop}
		s.handle(conn)
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}
}

// handle runs the packet loop for one client.
func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	buf := make([]byte, 4096)
	var acc []byte
	for {
		n, err := conn.Read(buf)
		if err != nil {
			slog.Info("GDB client disconnected")
			s.clearAllBreakpoints()
			return
		}
		acc = append(acc, buf[:n]...)
		for {
			packet, rest, ok := extractPacket(acc)
			if !ok {
				acc = rest
				break
			}
			acc = rest
			_, _ = conn.Write([]byte("+"))
			reply, quit := s.command(conn, packet)
			if reply != noReply {
				s.sendPacket(conn, reply)
			}
			if quit {
				s.clearAllBreakpoints()
				return
			}
		}
	}
}

// extractPacket pulls one $data#xx frame out of the stream. Leading
// acks, naks and interrupt bytes are dropped.
func extractPacket(in []byte) (string, []byte, bool) {
	start := -1
	for i, c := range in {
		if c == '$' {
			start = i
			break
		}
	}
	if start < 0 {
		return "", nil, false
	}
	for i := start + 1; i < len(in); i++ {
		if in[i] != '#' {
			continue
		}
		if i+2 >= len(in) {
			return "", in[start:], false
		}
		body := string(in[start+1 : i])
		var sum byte
		for _, c := range []byte(body) {
			sum += c
		}
		want, err := strconv.ParseUint(string(in[i+1:i+3]), 16, 8)
		if err != nil || byte(want) != sum {
			return "", in[i+3:], false
		}
		return body, in[i+3:], true
	}
	return "", in[start:], false
}

func (s *Server) sendPacket(conn net.Conn, body string) {
	var sum byte
	for _, c := range []byte(body) {
		sum += c
	}
	fmt.Fprintf(conn, "$%s#%02x", body, sum)
}

// noReply marks a command that already wrote its own response.
const noReply = "\x00"

// command dispatches one RSP request. The bool result ends the session.
func (s *Server) command(conn net.Conn, packet string) (string, bool) {
	if packet == "" {
		return "", false
	}
	switch packet[0] {
	case '?':
		return "S05", false
	case 'g':
		return s.readRegisters(), false
	case 'G':
		return s.writeRegisters(packet[1:]), false
	case 'p':
		return s.readRegister(packet[1:]), false
	case 'P':
		return s.writeRegister(packet[1:]), false
	case 'm':
		return s.readMemory(packet[1:]), false
	case 'M':
		return s.writeMemory(packet[1:]), false
	case 'c':
		s.resume(conn, master.Packet{Msg: master.Start})
		return noReply, false
	case 's':
		s.resume(conn, master.Packet{Msg: master.Step, Count: 1})
		return noReply, false
	case 'Z', 'z':
		return s.breakpoint(packet), false
	case 'H':
		return "OK", false
	case 'q':
		return s.query(packet), false
	case 'k':
		s.master <- master.Packet{Msg: master.Stop}
		return noReply, true
	case 'D':
		s.sendPacket(conn, "OK")
		s.master <- master.Packet{Msg: master.Start}
		return noReply, true
	}
	// Unsupported commands answer empty per the protocol.
	return "", false
}

// resume restarts the core and blocks until it halts again, then
// reports the stop.
func (s *Server) resume(conn net.Conn, p master.Packet) {
	// Drain a stale halt notification.
	select {
	case <-s.halted:
	default:
	}
	s.master <- p
	<-s.halted
	s.sendPacket(conn, "S05")
}

func (s *Server) query(packet string) string {
	switch {
	case strings.HasPrefix(packet, "qSupported"):
		return "PacketSize=1000;swbreak+"
	case packet == "qAttached":
		return "1"
	case packet == "qC":
		return "QC1"
	case packet == "qfThreadInfo":
		return "m1"
	case packet == "qsThreadInfo":
		return "l"
	}
	return ""
}

// Register order on the wire: R0..R12, SP, LR, PC, then xPSR.
const numRegs = 17

func (s *Server) regValue(i int) uint32 {
	r := s.core.CPU.Reg
	switch {
	case i < 13:
		v, _ := r.Read(uint8(i))
		return v
	case i == 13:
		return r.SP()
	case i == 14:
		return r.LR()
	case i == 15:
		return r.PC()
	case i == 16 || i == 25:
		return r.PSR()
	}
	return 0
}

func (s *Server) setRegValue(i int, v uint32) {
	r := s.core.CPU.Reg
	switch {
	case i < 13:
		_ = r.Write(uint8(i), v)
	case i == 13:
		r.SetSP(v)
	case i == 14:
		r.SetLR(v)
	case i == 15:
		r.SetPC(v)
	case i == 16 || i == 25:
		r.SetPSR(v)
	}
}

func (s *Server) readRegisters() string {
	var b strings.Builder
	for i := 0; i < numRegs; i++ {
		fmt.Fprintf(&b, "%08x", swap32(s.regValue(i)))
	}
	return b.String()
}

func (s *Server) writeRegisters(data string) string {
	if len(data) < 16*8 {
		return "E02"
	}
	for i := 0; i < numRegs && (i+1)*8 <= len(data); i++ {
		v, err := strconv.ParseUint(data[i*8:(i+1)*8], 16, 32)
		if err != nil {
			return "E02"
		}
		s.setRegValue(i, swap32(uint32(v)))
	}
	return "OK"
}

func (s *Server) readRegister(arg string) string {
	i, err := strconv.ParseUint(arg, 16, 8)
	if err != nil {
		return "E01"
	}
	return fmt.Sprintf("%08x", swap32(s.regValue(int(i))))
}

func (s *Server) writeRegister(arg string) string {
	eq := strings.IndexByte(arg, '=')
	if eq < 0 {
		return "E01"
	}
	i, err := strconv.ParseUint(arg[:eq], 16, 8)
	if err != nil {
		return "E01"
	}
	v, err := strconv.ParseUint(arg[eq+1:], 16, 32)
	if err != nil {
		return "E01"
	}
	s.setRegValue(int(i), swap32(uint32(v)))
	return "OK"
}

func (s *Server) readMemory(arg string) string {
	addr, length, ok := parseAddrLen(arg)
	if !ok || length > 4096 {
		return "E01"
	}
	data, err := s.core.CPU.Bus.DebugRead(addr, int(length))
	if err != nil {
		return "E03"
	}
	var b strings.Builder
	for _, by := range data {
		fmt.Fprintf(&b, "%02x", by)
	}
	return b.String()
}

func (s *Server) writeMemory(arg string) string {
	colon := strings.IndexByte(arg, ':')
	if colon < 0 {
		return "E01"
	}
	addr, length, ok := parseAddrLen(arg[:colon])
	if !ok {
		return "E01"
	}
	hexData := arg[colon+1:]
	if uint32(len(hexData)) != length*2 {
		return "E02"
	}
	data := make([]byte, length)
	for i := range data {
		v, err := strconv.ParseUint(hexData[i*2:i*2+2], 16, 8)
		if err != nil {
			return "E02"
		}
		data[i] = byte(v)
	}
	if err := s.core.CPU.Bus.DebugWrite(addr, data); err != nil {
		return "E03"
	}
	return "OK"
}

// breakpoint plants or removes a software BKPT, saving the original
// halfword.
func (s *Server) breakpoint(packet string) string {
	parts := strings.Split(packet[1:], ",")
	if len(parts) < 2 || parts[0] != "0" {
		return "" // Only software breakpoints
	}
	addr64, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return "E01"
	}
	addr := uint32(addr64) &^ 1

	s.mu.Lock()
	defer s.mu.Unlock()
	if packet[0] == 'Z' {
		old, err := s.core.CPU.Bus.DebugRead(addr, 2)
		if err != nil {
			return "E03"
		}
		if err := s.core.CPU.Bus.DebugWrite(addr, []byte{byte(bkptOpcode & 0xff), byte(bkptOpcode >> 8)}); err != nil {
			return "E03"
		}
		s.breaks[addr] = uint16(old[0]) | uint16(old[1])<<8
		return "OK"
	}
	old, ok := s.breaks[addr]
	if !ok {
		return "E02"
	}
	if err := s.core.CPU.Bus.DebugWrite(addr, []byte{byte(old), byte(old >> 8)}); err != nil {
		return "E03"
	}
	delete(s.breaks, addr)
	return "OK"
}

func (s *Server) clearAllBreakpoints() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, old := range s.breaks {
		_ = s.core.CPU.Bus.DebugWrite(addr, []byte{byte(old), byte(old >> 8)})
	}
	s.breaks = make(map[uint32]uint16)
}

func parseAddrLen(arg string) (uint32, uint32, bool) {
	comma := strings.IndexByte(arg, ',')
	if comma < 0 {
		return 0, 0, false
	}
	addr, err := strconv.ParseUint(arg[:comma], 16, 32)
	if err != nil {
		return 0, 0, false
	}
	length, err := strconv.ParseUint(arg[comma+1:], 16, 32)
	if err != nil {
		return 0, 0, false
	}
	return uint32(addr), uint32(length), true
}

// swap32 converts between the target's little endian register image and
// the host value.
func swap32(v uint32) uint32 {
	return v<<24 | v>>24 | v<<8&0x00ff0000 | v>>8&0x0000ff00
}
