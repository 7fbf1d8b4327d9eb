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

	"github.com/SnellerInc/lzoscan/lzop"

	"github.com/dchest/siphash"
)

// A Range is a contiguous byte interval of one lzop file
// assigned to a single scanner. Ranges are produced by
// Splitter.Split and reference the shared, read-only
// FileHeader and Index of the file, so scanners never
// re-parse either.
type Range struct {
	// Path is the data file path within the InputFS.
	Path string
	// ETag identifies the file contents at split time;
	// a scanner may use it to detect file replacement.
	ETag string
	// Start and End delimit the byte range. Start is
	// always a block start (or the header end for the
	// first range); a block beginning before End is
	// decoded completely even if it extends past it.
	Start, End int64
	// FileSize is the total size of the data file.
	FileSize int64
	// Header is the shared parsed file header.
	Header *lzop.FileHeader
	// Index is the shared block index, nil when the
	// file has no companion index.
	Index lzop.Index
	// Splittable is false when the file has no index;
	// such files get exactly one Range and no
	// mid-stream corruption recovery.
	Splittable bool
}

// first reports whether r is the first data range of its
// file, i.e. it begins immediately after the header and
// its leading bytes start a fresh record.
func (r *Range) first() bool {
	return r.Start == r.Header.HeaderSize
}

// Splitter computes the data scan ranges for lzop files.
// It performs the work of the distinguished header-only
// range: it parses the file header and the companion
// index once and then emits the byte ranges that should
// be handed to scanners, one per indexed block, or a
// single whole-file range when no index exists.
type Splitter struct {
	// FS is the filesystem containing the data
	// and index files.
	FS InputFS
	// MinRangeSize, when non-zero, coalesces adjacent
	// block ranges until each range spans at least this
	// many compressed bytes. Typical block indexes list
	// one entry per 256KiB block, which is far too fine
	// a granularity to schedule one worker per entry.
	MinRangeSize int64
	// Log, if non-nil, receives diagnostics.
	Log func(f string, args ...interface{})
}

func (s *Splitter) logf(f string, args ...interface{}) {
	if s.Log != nil {
		s.Log(f, args...)
	}
}

// Split parses the header and index of the file at path
// and returns the ranges covering [header end, file end).
//
// With an index present, adjacent index offsets delimit
// the ranges and the final range extends to the file end;
// the emitted ranges partition the data section exactly.
// Without an index the file is not splittable and a
// single range covers everything after the header.
func (s *Splitter) Split(path string) ([]Range, error) {
	f, err := s.FS.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	etag, err := s.FS.ETag(path, info)
	if err != nil {
		return nil, err
	}
	hdr, err := lzop.ParseHeader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	size := info.Size()
	if hdr.HeaderSize > size {
		return nil, fmt.Errorf("%s: %w: %d-byte header in %d-byte file",
			path, lzop.ErrFormat, hdr.HeaderSize, size)
	}
	index, err := lzop.LoadIndex(s.FS, path, hdr.HeaderSize)
	if err != nil {
		return nil, err
	}
	if index == nil {
		s.logf("%s: no companion index; emitting one non-splittable range", path)
		return []Range{{
			Path:     path,
			ETag:     etag,
			Start:    hdr.HeaderSize,
			End:      size,
			FileSize: size,
			Header:   hdr,
		}}, nil
	}
	s.logf("%s: %d indexed blocks", path, len(index))
	ranges := make([]Range, 0, len(index))
	for i, off := range index {
		end := size
		if i+1 < len(index) {
			end = index[i+1]
		}
		ranges = append(ranges, Range{
			Path:       path,
			ETag:       etag,
			Start:      off,
			End:        end,
			FileSize:   size,
			Header:     hdr,
			Index:      index,
			Splittable: true,
		})
	}
	return coalesce(ranges, s.MinRangeSize), nil
}

// coalesce merges adjacent ranges until each spans at
// least min compressed bytes. The merged ranges still
// begin and end exactly at block starts, so the result
// partitions the data section the same way.
func coalesce(ranges []Range, min int64) []Range {
	if min <= 0 {
		return ranges
	}
	out := ranges[:0]
	for _, r := range ranges {
		if n := len(out); n > 0 && out[n-1].End-out[n-1].Start < min {
			out[n-1].End = r.End
			continue
		}
		out = append(out, r)
	}
	return out
}

// HashSplit deterministically assigns ranges to n groups
// keyed on each range's (ETag, Start), so that repeated
// scans of the same files land on the same workers.
// A group count below 1 is treated as 1.
func HashSplit(ranges []Range, n int) [][]Range {
	const (
		k0    = 0x5d1ec810febed702
		k1    = 0x40fd7fee17262f71
		clamp = ^uint64(0)
	)
	if n < 1 {
		n = 1
	}
	ret := make([][]Range, n)
	var tmp []byte
	for i := range ranges {
		tmp = append(tmp[:0], ranges[i].ETag...)
		tmp = binary.LittleEndian.AppendUint64(tmp, uint64(ranges[i].Start))
		h := siphash.Hash(k0, k1, tmp)
		j := int(h / (clamp / uint64(n)))
		if j >= n {
			j = n - 1
		}
		ret[j] = append(ret[j], ranges[i])
	}
	return ret
}
