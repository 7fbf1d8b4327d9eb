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

package lzop

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sort"
)

// IndexSuffix is appended to a data file's path to form
// the path of its companion block-index file.
const IndexSuffix = ".index"

// Index is the ordered list of file offsets at which
// compressed blocks begin. An index is built once per
// file and shared read-only by every scanner, so it
// must not be mutated after construction.
//
// A nil Index means no companion index file exists;
// such a file cannot be split across scanners and
// cannot recover from block corruption.
type Index []int64

// ReadIndex parses a companion index file: a sequence
// of 8-byte big-endian block-start offsets. Offsets must
// be strictly ascending and must not point inside the
// file header; anything else means the index file is
// corrupt or belongs to a different data file.
func ReadIndex(r io.Reader, headerSize int64) (Index, error) {
	var ix Index
	var buf [8]byte
	prev := int64(-1)
	for {
		_, err := io.ReadFull(r, buf[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: truncated index entry %d: %s", ErrFormat, len(ix), err)
		}
		off := int64(binary.BigEndian.Uint64(buf[:]))
		if off < headerSize {
			return nil, fmt.Errorf("%w: index entry %d offset %d points inside %d-byte header",
				ErrFormat, len(ix), off, headerSize)
		}
		if off <= prev {
			return nil, fmt.Errorf("%w: index entry %d offset %d not above previous %d",
				ErrFormat, len(ix), off, prev)
		}
		ix = append(ix, off)
		prev = off
	}
	if len(ix) == 0 {
		return nil, fmt.Errorf("%w: empty index file", ErrFormat)
	}
	return ix, nil
}

// LoadIndex opens and parses the companion index file
// for the data file at path. A missing index file is
// not an error: it returns (nil, nil), which marks the
// data file as non-splittable.
func LoadIndex(fsys fs.FS, path string, headerSize int64) (Index, error) {
	f, err := fsys.Open(path + IndexSuffix)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ix, err := ReadIndex(f, headerSize)
	if err != nil {
		return nil, fmt.Errorf("%s%s: %w", path, IndexSuffix, err)
	}
	return ix, nil
}

// Next returns the smallest indexed block start at or
// above target. ok is false when target lies beyond the
// last block start, in which case no block remains for
// the caller's range.
func (ix Index) Next(target int64) (off int64, ok bool) {
	i := sort.Search(len(ix), func(i int) bool {
		return ix[i] >= target
	})
	if i == len(ix) {
		return 0, false
	}
	return ix[i], true
}

// WriteTo writes ix in companion-index format.
func (ix Index) WriteTo(w io.Writer) (int64, error) {
	var buf [8]byte
	nn := int64(0)
	for _, off := range ix {
		binary.BigEndian.PutUint64(buf[:], uint64(off))
		n, err := w.Write(buf[:])
		nn += int64(n)
		if err != nil {
			return nn, err
		}
	}
	return nn, nil
}

// BuildIndex walks the block headers of an lzop file
// without decompressing anything and returns the offset
// of every block. This is the offline indexing step that
// makes a file splittable; cmd/lzindex wraps it.
//
// src must read the file whose header is f; size is the
// total file size.
func BuildIndex(src io.ReaderAt, f *FileHeader, size int64) (Index, error) {
	var ix Index
	var buf [8]byte
	off := f.HeaderSize
	for {
		if off >= size {
			return nil, fmt.Errorf("%w: no end-of-stream marker before offset %d", ErrFormat, off)
		}
		if _, err := src.ReadAt(buf[:4], off); err != nil {
			return nil, fmt.Errorf("%w: block header at offset %d: %s", ErrFormat, off, err)
		}
		ulen := int(binary.BigEndian.Uint32(buf[:4]))
		if ulen == 0 {
			return ix, nil
		}
		if _, err := src.ReadAt(buf[4:8], off+4); err != nil {
			return nil, fmt.Errorf("%w: block header at offset %d: %s", ErrFormat, off, err)
		}
		bh := BlockHeader{
			UncompressedLen: ulen,
			CompressedLen:   int(binary.BigEndian.Uint32(buf[4:8])),
		}
		if err := bh.Check(f); err != nil {
			return nil, fmt.Errorf("offset %d: %w", off, err)
		}
		ix = append(ix, off)
		off += bh.HeaderSize(f) + int64(bh.CompressedLen)
	}
}
