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
	"sync"
)

var decodeScratch sync.Pool

func malloc(size int) []byte {
	r := decodeScratch.Get()
	if r != nil {
		buf := r.([]byte)
		if cap(buf) >= size {
			return buf[:size]
		}
		// too small for this block, but still
		// useful for a later smaller one
		free(buf)
	}
	return make([]byte, size)
}

func free(buf []byte) {
	//lint:ignore SA6002 inconsequential
	decodeScratch.Put(buf)
}

// A Scope owns decoded block buffers on behalf of a
// downstream consumer. Every successful decode produces
// a fresh buffer attached to the caller's Scope, so the
// consumer may keep references to earlier buffers while
// the scanner moves on to later blocks. Closing the
// Scope recycles everything attached to it; until then
// no attached buffer is reused.
type Scope struct {
	held [][]byte
}

// Attach transfers ownership of buf to s.
// The scanner must not touch buf afterwards.
func (s *Scope) Attach(buf []byte) {
	s.held = append(s.held, buf)
}

// TransferTo moves every buffer attached to s into dst.
// It is used to carry buffers that a consumer may still
// reference into the consumer's own resource scope.
func (s *Scope) TransferTo(dst *Scope) {
	dst.held = append(dst.held, s.held...)
	s.held = s.held[:0]
}

// Close releases every buffer attached to s.
// The consumer must be done with all of them.
func (s *Scope) Close() {
	for i := range s.held {
		free(s.held[i])
		s.held[i] = nil
	}
	s.held = s.held[:0]
}
