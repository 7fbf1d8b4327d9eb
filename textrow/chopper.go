// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

// Package textrow splits decoded byte buffers into
// newline-terminated text records.
//
// Records routinely straddle compressed-block and
// scan-range boundaries, so a Chopper carries the open
// record across buffers and implements the two rules
// that make split scanning line up exactly: a
// continuation range drops everything up to its first
// record boundary (the preceding range owns that
// record), and a range keeps consuming past its byte
// bound until its last open record closes.
package textrow

import (
	"bytes"
)

// Chopper splits a sequence of byte buffers into
// newline-terminated records.
type Chopper struct {
	// SkipLeading makes the chopper discard all bytes
	// up to and including the first newline it sees.
	// Set it for every scan range except the one that
	// begins immediately after the file header, since
	// such a range starts mid-record.
	SkipLeading bool

	partial []byte
	skipped bool
	resync  bool
}

// Resync discards the open record and makes the chopper
// skip everything up to the next record boundary. Call it
// when bytes went missing from the stream (a corrupt
// block was skipped): both halves of the record around
// the gap are unusable.
func (c *Chopper) Resync() {
	c.partial = c.partial[:0]
	c.resync = true
}

// Chop feeds buf to the chopper and calls emit once per
// completed record, without the trailing newline. A
// record left open at the end of buf is buffered and
// completed by a later Chop, Tail or Flush call. The
// slices passed to emit are only valid during the call.
func (c *Chopper) Chop(buf []byte, emit func(row []byte) error) error {
	if (c.SkipLeading && !c.skipped) || c.resync {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			return nil
		}
		buf = buf[i+1:]
		c.skipped = true
		c.resync = false
	}
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			c.partial = append(c.partial, buf...)
			return nil
		}
		row := buf[:i]
		if len(c.partial) > 0 {
			c.partial = append(c.partial, row...)
			row = c.partial
		}
		if err := emit(trimCR(row)); err != nil {
			return err
		}
		c.partial = c.partial[:0]
		buf = buf[i+1:]
	}
}

// Started reports whether the chopper has located the
// first record owned by its range: immediately for a
// range that starts at a record boundary, otherwise
// once the leading partial record has been skipped.
// A range that never starts owns no records, and its
// bytes are consumed entirely by an earlier range
// finishing a long record; such a range must not read
// past its bound either.
func (c *Chopper) Started() bool {
	return !c.SkipLeading || c.skipped
}

// Open reports whether a record is currently open, i.e.
// bytes have been consumed past the last record boundary.
// A scan range whose chopper is still open at its byte
// bound must keep decoding blocks (see Tail) until the
// record closes, because the record belongs to it.
func (c *Chopper) Open() bool {
	return len(c.partial) > 0
}

// Tail consumes the prefix of buf needed to complete the
// open record and emits it. done reports whether the
// record closed; when done, the remainder of buf belongs
// to the next scan range and is deliberately dropped.
func (c *Chopper) Tail(buf []byte, emit func(row []byte) error) (done bool, err error) {
	i := bytes.IndexByte(buf, '\n')
	if i < 0 {
		c.partial = append(c.partial, buf...)
		return false, nil
	}
	c.partial = append(c.partial, buf[:i]...)
	err = emit(trimCR(c.partial))
	c.partial = c.partial[:0]
	return true, err
}

// Flush emits the open record, if any, as a final
// unterminated record. Call it when the file itself
// ends without a trailing newline.
func (c *Chopper) Flush(emit func(row []byte) error) error {
	if len(c.partial) == 0 {
		return nil
	}
	err := emit(trimCR(c.partial))
	c.partial = c.partial[:0]
	return err
}

func trimCR(row []byte) []byte {
	if n := len(row); n > 0 && row[n-1] == '\r' {
		return row[:n-1]
	}
	return row
}
