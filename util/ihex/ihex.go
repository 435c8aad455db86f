/*
 * CM0 - Intel HEX image loader
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

// Package ihex reads Intel HEX images. Only the record types firmware
// linkers emit are honored: data (00), end of file (01) and extended
// linear address (04). Bad lines are skipped with a warning; data past
// the end of memory is discarded with a warning.
package ihex

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/rcornwell/cortex-m0/emu/memory"
)

const (
	recData = 0x00
	recEOF  = 0x01
	recELA  = 0x04
)

var ErrNoData = errors.New("ihex: no data records")

// Load fills mem from an Intel HEX stream and returns the number of
// bytes stored.
func Load(r io.Reader, mem *memory.Memory) (int, error) {
	scanner := bufio.NewScanner(r)
	var extended uint32
	loaded := 0
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line[0] != ':' {
			slog.Warn(fmt.Sprintf("ihex: line %d: missing ':', skipped", lineNo))
			continue
		}
		raw, err := hex.DecodeString(line[1:])
		if err != nil || len(raw) < 5 {
			slog.Warn(fmt.Sprintf("ihex: line %d: malformed record, skipped", lineNo))
			continue
		}

		count := int(raw[0])
		if len(raw) != count+5 {
			slog.Warn(fmt.Sprintf("ihex: line %d: length mismatch, skipped", lineNo))
			continue
		}
		var sum uint8
		for _, b := range raw {
			sum += b
		}
		if sum != 0 {
			slog.Warn(fmt.Sprintf("ihex: line %d: bad checksum, skipped", lineNo))
			continue
		}

		addr := uint32(raw[1])<<8 | uint32(raw[2])
		rtype := raw[3]
		data := raw[4 : 4+count]

		switch rtype {
		case recData:
			target := extended + addr
			if err := mem.Write(target, data); err != nil {
				slog.Warn(fmt.Sprintf("ihex: line %d: %d bytes at %08x outside memory, discarded", lineNo, count, target))
				continue
			}
			loaded += count
		case recEOF:
			if loaded == 0 {
				return 0, ErrNoData
			}
			return loaded, nil
		case recELA:
			if count != 2 {
				slog.Warn(fmt.Sprintf("ihex: line %d: bad extended address record, skipped", lineNo))
				continue
			}
			extended = uint32(data[0])<<24 | uint32(data[1])<<16
		default:
			slog.Warn(fmt.Sprintf("ihex: line %d: record type %02x ignored", lineNo, rtype))
		}
	}
	if err := scanner.Err(); err != nil {
		return loaded, fmt.Errorf("ihex: read: %w", err)
	}
	if loaded == 0 {
		return 0, ErrNoData
	}
	return loaded, nil
}
