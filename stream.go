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
	"io"
)

// stream provides sequential reads over an io.ReaderAt
// with explicit offset tracking. Scanners position it at
// block starts and read exact field and payload sizes;
// no read ever exceeds one maximum block, so the reads a
// scanner performs past its range end (to finish a block
// straddling the boundary) are bounded.
type stream struct {
	src  io.ReaderAt
	off  int64
	size int64 // total file size; hard read limit
}

func (s *stream) offset() int64 { return s.off }

func (s *stream) seek(off int64) { s.off = off }

// readFull reads exactly len(p) bytes at the current
// offset and advances past them. It returns io.EOF if
// the offset is at the end of the file already, and
// io.ErrUnexpectedEOF if the file ends mid-read.
func (s *stream) readFull(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if s.off >= s.size {
		return io.EOF
	}
	if s.off+int64(len(p)) > s.size {
		return io.ErrUnexpectedEOF
	}
	n, err := s.src.ReadAt(p, s.off)
	s.off += int64(n)
	if err == io.EOF && n == len(p) {
		err = nil
	}
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return err
}
