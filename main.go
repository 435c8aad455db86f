/*
 * CM0 - Main process.
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

package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	getopt "github.com/pborman/getopt/v2"

	"github.com/rcornwell/cortex-m0/command/reader"
	config "github.com/rcornwell/cortex-m0/config/configparser"
	"github.com/rcornwell/cortex-m0/emu/bus"
	"github.com/rcornwell/cortex-m0/emu/core"
	"github.com/rcornwell/cortex-m0/emu/cpu"
	"github.com/rcornwell/cortex-m0/emu/event"
	"github.com/rcornwell/cortex-m0/emu/master"
	"github.com/rcornwell/cortex-m0/emu/memory"
	"github.com/rcornwell/cortex-m0/emu/nvic"
	"github.com/rcornwell/cortex-m0/emu/registers"
	"github.com/rcornwell/cortex-m0/emu/timer"
	"github.com/rcornwell/cortex-m0/emu/uart"
	"github.com/rcornwell/cortex-m0/gdb"
	"github.com/rcornwell/cortex-m0/util/ihex"
	"github.com/rcornwell/cortex-m0/util/logger"
)

// machine is everything main has to tear down on exit.
type machine struct {
	core    *core.Core
	master  chan master.Packet
	console *uart.UART
	gdbSrv  *gdb.Server
}

func main() {
	optConfig := getopt.StringLong("config", 'c', "cm0.cfg", "Board configuration file")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optHex := getopt.StringLong("hex", 'x', "", "Intel HEX firmware image")
	optGdb := getopt.IntLong("gdb", 'g', 0, "GDB server port, 0 disables")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	cfg := &config.Config{}
	cfgMissing := false
	if _, err := os.Stat(*optConfig); err == nil {
		cfg, err = config.LoadConfigFile(*optConfig)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
	} else {
		cfgMissing = true
	}

	// The --log flag wins over the board file's LOGFILE line.
	logName := *optLogFile
	if logName == "" {
		if dev, ok := cfg.Find("LOGFILE"); ok {
			logName = dev.Value
		}
	}
	var file *os.File
	if logName != "" {
		file, _ = os.Create(logName)
	}
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelDebug)
	slog.SetDefault(slog.New(logger.NewHandler(file, &slog.HandlerOptions{Level: programLevel})))

	slog.Info("CM0 started")
	if cfgMissing {
		slog.Warn("No configuration file, using default board")
	}

	m, err := buildMachine(cfg, *optHex)
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}

	gdbPort := *optGdb
	if gdbPort == 0 {
		if dev, ok := cfg.Find("GDB"); ok {
			gdbPort, err = strconv.Atoi(dev.Value)
			if err != nil {
				slog.Error(fmt.Sprintf("configuration: line %d: bad GDB port %q", dev.Line, dev.Value))
				os.Exit(1)
			}
		}
	}
	if gdbPort != 0 {
		srv, err := gdb.Start(gdbPort, m.core, m.master)
		if err != nil {
			slog.Error(err.Error())
			os.Exit(1)
		}
		m.gdbSrv = srv
		// The debugger decides when execution begins.
	} else {
		m.master <- master.Packet{Msg: master.Start}
	}

	// Run the simulation on its own goroutine.
	go m.core.Start()

	// Shut down cleanly on SIGINT or SIGTERM.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		shutdown(m)
		os.Exit(0)
	}()

	reader.ConsoleReader(m.core, m.master)
	shutdown(m)
}

func shutdown(m *machine) {
	if m.gdbSrv != nil {
		m.gdbSrv.Stop()
	}
	if m.console != nil {
		m.console.Detach(os.Stdin)
	}
	m.core.Stop()
	slog.Info("CM0 shutdown")
}

// buildMachine assembles the bus from the board description and loads
// the firmware image.
func buildMachine(cfg *config.Config, hexFile string) (*machine, error) {
	b := bus.New()
	nv := nvic.New()
	queue := event.NewQueue()
	m := &machine{master: make(chan master.Packet, 8)}

	memSize := uint32(1024 * 1024)
	if dev, ok := cfg.Find("MEMORY"); ok {
		size, err := config.ParseSize(dev.Value)
		if err != nil {
			return nil, err
		}
		memSize = size
	}
	ram := memory.New(memSize)
	if err := b.AddDevice("memory", 0, memSize, true, ram); err != nil {
		return nil, err
	}
	if err := b.AddDevice("nvic", 0xe000e000, 0x1000, false, nv); err != nil {
		return nil, err
	}

	if dev, ok := cfg.Find("TRACE"); ok && dev.HasAddr {
		if err := b.AddDevice("trace", dev.Addr, uart.TraceSize, true, uart.NewTrace(os.Stdout)); err != nil {
			return nil, err
		}
	}

	for _, dev := range cfg.FindAll("UART") {
		if !dev.HasAddr {
			return nil, fmt.Errorf("configuration: line %d: UART needs an address", dev.Line)
		}
		irq, err := dev.IrqOption(1)
		if err != nil {
			return nil, err
		}
		u := uart.New(os.Stdout, nv, nvic.IRQ0+irq)
		if err := b.AddDevice("uart", dev.Addr, uart.Size, true, u); err != nil {
			return nil, err
		}
		if _, console := dev.Option("console"); console {
			if err := u.Attach(os.Stdin); err != nil {
				slog.Warn(err.Error())
			}
			m.console = u
		}
	}

	if dev, ok := cfg.Find("TIMER"); ok && dev.HasAddr {
		irq, err := dev.IrqOption(0)
		if err != nil {
			return nil, err
		}
		tm := timer.New(nv, queue, nvic.IRQ0+irq, 1000)
		if err := b.AddDevice("timer", dev.Addr, timer.Size, true, tm); err != nil {
			return nil, err
		}
		tm.Start()
	}

	reg := registers.NewFile(memSize &^ 3)
	c := cpu.New(reg, b, nv)
	m.core = core.New(c, queue, m.master)

	if hexFile == "" {
		return nil, fmt.Errorf("no firmware image, use --hex")
	}
	f, err := os.Open(hexFile)
	if err != nil {
		return nil, fmt.Errorf("firmware: %w", err)
	}
	defer f.Close()
	loaded, err := ihex.Load(f, ram)
	if err != nil {
		return nil, fmt.Errorf("firmware: %w", err)
	}
	slog.Info(fmt.Sprintf("Loaded %d bytes from %s", loaded, hexFile))

	// A machine with no reset vector cannot start.
	if vector, err := ram.GetWord(4); err != nil || vector == 0 {
		return nil, fmt.Errorf("firmware: no reset vector in %s", hexFile)
	}
	return m, nil
}
