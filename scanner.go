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

package lzoscan

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/SnellerInc/lzoscan/lzop"
)

// scanState is the decode position of a Scanner within
// its range. Transitions are handled one state per
// method so recovery can be tested in isolation.
type scanState uint8

const (
	// positioned at a (presumed) block header
	stateBlockHeader scanState = iota
	// block header read; payload bytes pending
	statePayload
	// stream position untrustworthy; re-locate via index
	stateRecover
	// no more blocks for this range
	stateEOF
)

// Scanner decodes the blocks of a single Range.
//
// A Scanner reads block headers and payloads
// sequentially, verifies checksums, decompresses
// payloads, and hands each decoded block to the caller
// as a fresh buffer attached to the caller's Scope.
// When a block turns out to be corrupt and the file has
// an index, the Scanner skips forward to the next
// indexed block start; the rows in the skipped region
// are lost, which is the accepted cost of keeping the
// rest of the range readable.
type Scanner struct {
	src        stream
	hdr        *lzop.FileHeader
	index      lzop.Index
	path       string
	start, end int64
	skipChecks bool

	state   scanState
	bh      lzop.BlockHeader
	suspect int64  // offset of the block that failed, when recovering
	payload []byte // compressed scratch; reused, never escapes
	opened  bool
	err     error // sticky unrecoverable error

	// Blocks and SkippedBlocks count decoded and
	// recovery-skipped blocks for diagnostics.
	Blocks        int64
	SkippedBlocks int64
}

// NewScanner constructs a Scanner for r reading from src.
// src must read the file described by r; the caller keeps
// ownership of it.
func NewScanner(r *Range, src io.ReaderAt) *Scanner {
	return &Scanner{
		src:   stream{src: src, size: r.FileSize},
		hdr:   r.Header,
		index: r.Index,
		path:  r.Path,
		start: r.Start,
		end:   r.End,
	}
}

// SkipChecks disables block checksum verification.
// Useful when the transport below the file already
// checksums reads end-to-end.
func (s *Scanner) SkipChecks() { s.skipChecks = true }

// Offset returns the current file offset of the scanner.
func (s *Scanner) Offset() int64 { return s.src.offset() }

// Next decodes the next block of the range and returns
// its uncompressed bytes, attached to scope. It returns
// io.EOF once the next block would start at or past the
// range's end bound, or when the file's end-of-stream
// marker is reached.
//
// The returned buffer is owned by scope: it stays valid
// until scope is closed, and the Scanner never reuses it.
func (s *Scanner) Next(scope *Scope) ([]byte, error) {
	return s.next(scope, false)
}

// NextOverrun is Next without the end-bound check: it
// decodes exactly the next block even when that block
// starts past the range's end. Callers use it to finish
// a record that straddles the range boundary.
func (s *Scanner) NextOverrun(scope *Scope) ([]byte, error) {
	return s.next(scope, true)
}

// open positions the scanner at its first block start.
// Ranges produced by a Splitter already begin exactly at
// indexed block starts, so the lookup is usually the
// identity, but a caller-constructed range may begin at
// an arbitrary offset inside a partial block left over
// from the preceding range.
func (s *Scanner) open() {
	if s.opened {
		return
	}
	s.opened = true
	if s.index == nil {
		// non-splittable: the single range starts
		// immediately after the header
		s.src.seek(s.start)
		return
	}
	off, ok := s.index.Next(s.start)
	if !ok || off >= s.end {
		s.state = stateEOF
		return
	}
	s.src.seek(off)
}

func (s *Scanner) next(scope *Scope, overrun bool) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.open()
	for {
		switch s.state {
		case stateEOF:
			return nil, io.EOF
		case stateBlockHeader:
			if !overrun && s.src.offset() >= s.end {
				return nil, io.EOF
			}
			if err := s.readBlockHeader(); err != nil {
				if err = s.fail(err); err != nil {
					return nil, err
				}
			}
		case statePayload:
			buf, err := s.decode(scope)
			if err != nil {
				if err = s.fail(err); err != nil {
					return nil, err
				}
				continue
			}
			s.state = stateBlockHeader
			s.Blocks++
			return buf, nil
		case stateRecover:
			s.recover(overrun)
		}
	}
}

// readBlockHeader reads the length and checksum fields
// of the block at the current offset and transitions to
// statePayload, stateEOF (zero uncompressed length or
// end of file), or returns an ErrCorrupt-wrapped error
// for the caller to route through fail.
func (s *Scanner) readBlockHeader() error {
	s.suspect = s.src.offset()
	var field [4]byte
	err := s.src.readFull(field[:])
	if err == io.EOF {
		// file ends exactly at a block boundary;
		// treat like the end-of-stream marker
		s.state = stateEOF
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: block length field: %s", lzop.ErrCorrupt, err)
	}
	ulen := binary.BigEndian.Uint32(field[:])
	if ulen == 0 {
		// clean end-of-stream marker
		s.state = stateEOF
		return nil
	}
	s.bh = lzop.BlockHeader{UncompressedLen: int(ulen)}
	if err := s.src.readFull(field[:]); err != nil {
		return fmt.Errorf("%w: block length field: %s", lzop.ErrCorrupt, err)
	}
	s.bh.CompressedLen = int(binary.BigEndian.Uint32(field[:]))
	if err := s.bh.Check(s.hdr); err != nil {
		return err
	}
	if s.hdr.InCheck != lzop.ChecksumNone {
		if err := s.src.readFull(field[:]); err != nil {
			return fmt.Errorf("%w: block checksum field: %s", lzop.ErrCorrupt, err)
		}
		s.bh.UncompressedSum = binary.BigEndian.Uint32(field[:])
	}
	if s.hdr.OutCheck != lzop.ChecksumNone && !s.bh.Stored() {
		if err := s.src.readFull(field[:]); err != nil {
			return fmt.Errorf("%w: block checksum field: %s", lzop.ErrCorrupt, err)
		}
		s.bh.CompressedSum = binary.BigEndian.Uint32(field[:])
	}
	s.state = statePayload
	return nil
}

// decode reads the payload of the current block and
// produces its uncompressed bytes in a fresh buffer
// attached to scope.
func (s *Scanner) decode(scope *Scope) ([]byte, error) {
	if cap(s.payload) < s.bh.CompressedLen {
		s.payload = make([]byte, s.bh.CompressedLen)
	}
	s.payload = s.payload[:s.bh.CompressedLen]
	if err := s.src.readFull(s.payload); err != nil {
		return nil, fmt.Errorf("%w: %d-byte payload: %s", lzop.ErrCorrupt, s.bh.CompressedLen, err)
	}
	dst := malloc(s.bh.UncompressedLen)
	if err := lzop.DecodeBlock(s.hdr, &s.bh, s.payload, dst, s.skipChecks); err != nil {
		free(dst)
		return nil, err
	}
	scope.Attach(dst)
	return dst, nil
}

// fail routes a corrupt-block error: with an index
// available the scanner transitions to stateRecover and
// the error is swallowed; without one the error becomes
// sticky and the range is over.
func (s *Scanner) fail(cause error) error {
	if s.index != nil {
		s.state = stateRecover
		return nil
	}
	s.err = fmt.Errorf("%s: offset %d: %w", s.path, s.suspect, cause)
	s.state = stateEOF
	return s.err
}

// recover re-locates the scanner at the first indexed
// block start strictly past the suspect block. If none
// remains (or the next one belongs to the next range),
// the range simply ends early; the corrupted tail is the
// documented data-loss window of splittable recovery.
func (s *Scanner) recover(overrun bool) {
	s.SkippedBlocks++
	off, ok := s.index.Next(s.suspect + 1)
	if !ok || (!overrun && off >= s.end) {
		s.state = stateEOF
		return
	}
	s.src.seek(off)
	s.state = stateBlockHeader
}
