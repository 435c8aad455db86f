/*
 * CM0 - Board configuration file parser
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

// Package configparser reads the board description file.
//
/* Configuration file format:
 *
 * '#' indicates comment, rest of line is ignored.
 * <line>    := <model> [<address>|<value>] *(<option>)
 * <model>   := MEMORY | TRACE | UART | TIMER | GDB | LOGFILE
 * <address> := 0x<hexnumber>
 * <value>   := <number>[K|M] | <string>
 * <option>  := <name> | <name>=<value>
 *
 * Example:
 *   MEMORY 1M
 *   TRACE 0x40000000
 *   UART 0x40010000 irq=1 console
 *   TIMER 0x40020000 irq=0
 *   GDB 3333
 *   LOGFILE sim.log
 */
package configparser

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

var ErrSyntax = errors.New("configuration syntax error")

// Option is a name or name=value trailer on a device line.
type Option struct {
	Name  string
	Value string
}

// Device is one parsed configuration line.
type Device struct {
	Model   string
	Addr    uint32 // Bus address when the line carries 0x...
	HasAddr bool
	Value   string // First bare argument (size, port, file name)
	Options []Option
	Line    int
}

// Config is the parsed board description.
type Config struct {
	Devices []Device
}

// Find returns the first line for a model.
func (c *Config) Find(model string) (Device, bool) {
	for _, d := range c.Devices {
		if d.Model == model {
			return d, true
		}
	}
	return Device{}, false
}

// FindAll returns every line for a model, in file order.
func (c *Config) FindAll(model string) []Device {
	var out []Device
	for _, d := range c.Devices {
		if d.Model == model {
			out = append(out, d)
		}
	}
	return out
}

// Option returns a device option by name.
func (d Device) Option(name string) (string, bool) {
	for _, o := range d.Options {
		if strings.EqualFold(o.Name, name) {
			return o.Value, true
		}
	}
	return "", false
}

// IrqOption parses an irq=N option with a default.
func (d Device) IrqOption(def int) (int, error) {
	v, ok := d.Option("irq")
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n > 31 {
		return 0, fmt.Errorf("%w: line %d: bad irq %q", ErrSyntax, d.Line, v)
	}
	return n, nil
}

// LoadConfigFile parses the named board file.
func LoadConfigFile(name string) (*Config, error) {
	file, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}
	defer file.Close()
	return parse(bufio.NewScanner(file))
}

// ParseString parses a board description held in a string.
func ParseString(text string) (*Config, error) {
	return parse(bufio.NewScanner(strings.NewReader(text)))
}

func parse(scanner *bufio.Scanner) (*Config, error) {
	cfg := &Config{}
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		dev := Device{Model: strings.ToUpper(fields[0]), Line: lineNumber}
		for _, field := range fields[1:] {
			switch {
			case strings.HasPrefix(field, "0x") || strings.HasPrefix(field, "0X"):
				v, err := strconv.ParseUint(field[2:], 16, 32)
				if err != nil {
					return nil, fmt.Errorf("%w: line %d: bad address %q", ErrSyntax, lineNumber, field)
				}
				dev.Addr = uint32(v)
				dev.HasAddr = true
			case strings.ContainsRune(field, '='):
				name, value, _ := strings.Cut(field, "=")
				dev.Options = append(dev.Options, Option{Name: name, Value: value})
			case dev.Value == "" && !dev.HasAddr:
				dev.Value = field
			default:
				dev.Options = append(dev.Options, Option{Name: field})
			}
		}
		cfg.Devices = append(cfg.Devices, dev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}
	return cfg, nil
}

// ParseSize converts 64K or 1M style values to bytes.
func ParseSize(value string) (uint32, error) {
	if value == "" {
		return 0, fmt.Errorf("%w: empty size", ErrSyntax)
	}
	mult := uint32(1)
	switch value[len(value)-1] {
	case 'k', 'K':
		mult = 1024
		value = value[:len(value)-1]
	case 'm', 'M':
		mult = 1024 * 1024
		value = value[:len(value)-1]
	}
	n, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: bad size %q", ErrSyntax, value)
	}
	return uint32(n) * mult, nil
}
