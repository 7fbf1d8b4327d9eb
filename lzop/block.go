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
	"fmt"

	"github.com/SnellerInc/lzoscan/compr"
)

// BlockHeader is the length-and-checksum prefix of
// one compressed block.
type BlockHeader struct {
	// UncompressedLen is the decoded size of the block.
	// A value of zero marks the end of the block stream.
	UncompressedLen int
	// CompressedLen is the stored size of the payload.
	// When it equals UncompressedLen the payload is
	// stored verbatim and no decompression is applied.
	CompressedLen int
	// UncompressedSum is the checksum of the decoded
	// bytes; only meaningful when the file's InCheck
	// kind is not ChecksumNone.
	UncompressedSum uint32
	// CompressedSum is the checksum of the stored
	// payload; only meaningful when the file's OutCheck
	// kind is not ChecksumNone and the block is
	// actually compressed.
	CompressedSum uint32
}

// Stored reports whether the block payload is stored
// uncompressed. lzop stores a block verbatim whenever
// compression would not have shrunk it, and omits the
// compressed checksum for such blocks.
func (b *BlockHeader) Stored() bool {
	return b.CompressedLen == b.UncompressedLen
}

// HeaderSize returns the encoded size of b given the
// file's checksum configuration: the two length fields
// plus whichever checksum fields are present.
func (b *BlockHeader) HeaderSize(f *FileHeader) int64 {
	n := int64(8 + f.InCheck.Size())
	if !b.Stored() {
		n += int64(f.OutCheck.Size())
	}
	return n
}

// maxCompressedLen is the worst-case lzo1x expansion
// of n input bytes; stored payloads never exceed it
func maxCompressedLen(n int) int {
	return n + n/16 + 64 + 3
}

// Check validates the length fields of b against the
// hard block-size limit and the worst-case compression
// expansion. A failure means the stream position does
// not actually point at a block header.
func (b *BlockHeader) Check(f *FileHeader) error {
	if b.UncompressedLen <= 0 || b.UncompressedLen > MaxBlockSize {
		return fmt.Errorf("%w: uncompressed length %d out of range", ErrCorrupt, b.UncompressedLen)
	}
	if b.CompressedLen <= 0 || b.CompressedLen > maxCompressedLen(b.UncompressedLen) {
		return fmt.Errorf("%w: compressed length %d implausible for %d uncompressed bytes",
			ErrCorrupt, b.CompressedLen, b.UncompressedLen)
	}
	return nil
}

// DecodeBlock decodes the payload of one block into dst,
// which must be exactly b.UncompressedLen bytes long.
// Stored payloads are copied verbatim; compressed payloads
// are decompressed with the file's compression method.
// Unless skipChecks is set, both checksums declared by the
// file header are verified and any mismatch is reported
// as ErrCorrupt.
func DecodeBlock(f *FileHeader, b *BlockHeader, payload, dst []byte, skipChecks bool) error {
	if len(payload) != b.CompressedLen || len(dst) != b.UncompressedLen {
		return fmt.Errorf("lzop: DecodeBlock buffer sizes %d/%d, want %d/%d",
			len(payload), len(dst), b.CompressedLen, b.UncompressedLen)
	}
	if b.Stored() {
		if !skipChecks && f.InCheck != ChecksumNone {
			if got := f.InCheck.Sum(payload); got != b.UncompressedSum {
				return fmt.Errorf("%w: %s of stored block computed %#x, want %#x",
					ErrCorrupt, f.InCheck, got, b.UncompressedSum)
			}
		}
		copy(dst, payload)
		return nil
	}
	if !skipChecks && f.OutCheck != ChecksumNone {
		if got := f.OutCheck.Sum(payload); got != b.CompressedSum {
			return fmt.Errorf("%w: %s of compressed payload computed %#x, want %#x",
				ErrCorrupt, f.OutCheck, got, b.CompressedSum)
		}
	}
	dec := compr.Decompression(f.CompressionName())
	if dec == nil {
		return fmt.Errorf("%w: no decompressor for method %d", ErrFormat, f.Method)
	}
	if err := dec.Decompress(payload, dst); err != nil {
		return fmt.Errorf("%w: %s", ErrCorrupt, err)
	}
	if !skipChecks && f.InCheck != ChecksumNone {
		if got := f.InCheck.Sum(dst); got != b.UncompressedSum {
			return fmt.Errorf("%w: %s of decoded block computed %#x, want %#x",
				ErrCorrupt, f.InCheck, got, b.UncompressedSum)
		}
	}
	return nil
}
