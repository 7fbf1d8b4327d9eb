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

// Package lzotest builds lzop files for tests.
//
// The scanning packages deliberately have no file-writing
// surface, so tests assemble real lzop containers here:
// genuine headers, lzo1x-compressed blocks, checksums and
// companion indexes, bit-compatible with the lzop tool.
package lzotest

import (
	"encoding/binary"
	"hash/adler32"
	"hash/crc32"

	"github.com/SnellerInc/lzoscan/compr"
	"github.com/SnellerInc/lzoscan/lzop"
)

// FileOpts controls the shape of a generated lzop file.
type FileOpts struct {
	// Flags is the header flags bitfield; it decides
	// which block checksums are present. The zero value
	// produces a file with no block checksums.
	Flags uint32
	// Method is the compression method byte;
	// zero means lzop.MethodLZO1X1.
	Method byte
	// Level is the compression level byte.
	Level byte
	// Name is the stored file name.
	Name string
	// BlockSize is the uncompressed block size;
	// zero means 4096.
	BlockSize int
	// Stored forces every block to be stored
	// uncompressed (compressed length == uncompressed
	// length), which is also what lzop does whenever
	// compression fails to shrink a block.
	Stored bool
	// Extra, when non-nil, is written as the optional
	// extra field (FlagExtraField is implied).
	Extra []byte
}

func (o *FileOpts) method() byte {
	if o.Method == 0 {
		return lzop.MethodLZO1X1
	}
	return o.Method
}

func (o *FileOpts) blockSize() int {
	if o.BlockSize <= 0 {
		return 4096
	}
	return o.BlockSize
}

const (
	version       = 0x1030
	libVersion    = 0x2080
	versionNeeded = 0x0940
)

// File assembles a complete lzop file containing data
// and returns the encoded file plus the offsets of
// every block, suitable for building a companion index
// with Index.
func File(data []byte, o *FileOpts) (file []byte, offsets []int64) {
	if o == nil {
		o = &FileOpts{}
	}
	flags := o.Flags
	if o.Extra != nil {
		flags |= lzop.FlagExtraField
	}
	out := append([]byte(nil), lzop.Magic[:]...)
	var hdr []byte
	hdr = binary.BigEndian.AppendUint16(hdr, version)
	hdr = binary.BigEndian.AppendUint16(hdr, libVersion)
	hdr = binary.BigEndian.AppendUint16(hdr, versionNeeded)
	hdr = append(hdr, o.method(), o.Level)
	hdr = binary.BigEndian.AppendUint32(hdr, flags)
	if flags&lzop.FlagFilter != 0 {
		hdr = binary.BigEndian.AppendUint32(hdr, 1)
	}
	hdr = binary.BigEndian.AppendUint32(hdr, 0o644)
	hdr = binary.BigEndian.AppendUint32(hdr, 1692000000) // mtime low
	hdr = binary.BigEndian.AppendUint32(hdr, 0)          // mtime high
	hdr = append(hdr, byte(len(o.Name)))
	hdr = append(hdr, o.Name...)
	hdr = binary.BigEndian.AppendUint32(hdr, headerSum(flags, hdr))
	if o.Extra != nil {
		hdr = binary.BigEndian.AppendUint32(hdr, uint32(len(o.Extra)))
		hdr = append(hdr, o.Extra...)
		hdr = binary.BigEndian.AppendUint32(hdr, headerSum(flags, o.Extra))
	}
	out = append(out, hdr...)

	inKind, outKind := blockKinds(flags)
	comp := compr.Compression("lzo1x")
	if o.method() == lzop.MethodLZO1X999 {
		comp = compr.Compression("lzo1x-999")
	}
	bs := o.blockSize()
	for len(data) > 0 {
		chunk := data
		if len(chunk) > bs {
			chunk = chunk[:bs]
		}
		data = data[len(chunk):]
		payload := chunk
		if !o.Stored {
			cmp := comp.Compress(chunk, nil)
			if len(cmp) < len(chunk) {
				payload = cmp
			}
		}
		offsets = append(offsets, int64(len(out)))
		out = binary.BigEndian.AppendUint32(out, uint32(len(chunk)))
		out = binary.BigEndian.AppendUint32(out, uint32(len(payload)))
		if inKind != lzop.ChecksumNone {
			out = binary.BigEndian.AppendUint32(out, inKind.Sum(chunk))
		}
		if outKind != lzop.ChecksumNone && len(payload) != len(chunk) {
			out = binary.BigEndian.AppendUint32(out, outKind.Sum(payload))
		}
		out = append(out, payload...)
	}
	out = binary.BigEndian.AppendUint32(out, 0) // end-of-stream marker
	return out, offsets
}

// Index encodes offsets in companion-index format.
func Index(offsets []int64) []byte {
	var out []byte
	for _, off := range offsets {
		out = binary.BigEndian.AppendUint64(out, uint64(off))
	}
	return out
}

func headerSum(flags uint32, b []byte) uint32 {
	if flags&lzop.FlagHeaderCRC32 != 0 {
		return crc32.ChecksumIEEE(b)
	}
	return adler32.Checksum(b)
}

func blockKinds(flags uint32) (in, out lzop.ChecksumKind) {
	in, out = lzop.ChecksumNone, lzop.ChecksumNone
	if flags&lzop.FlagCRC32D != 0 {
		in = lzop.ChecksumCRC32
	} else if flags&lzop.FlagAdler32D != 0 {
		in = lzop.ChecksumAdler32
	}
	if flags&lzop.FlagCRC32C != 0 {
		out = lzop.ChecksumCRC32
	} else if flags&lzop.FlagAdler32C != 0 {
		out = lzop.ChecksumAdler32
	}
	return in, out
}
