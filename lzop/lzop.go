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

// Package lzop implements the lzop container format:
// a fixed-plus-variable file header followed by a
// sequence of independently-compressed blocks, each
// preceded by its uncompressed and compressed sizes
// and optional checksums.
//
// The package parses and validates file headers,
// reads companion block-index files, and decodes
// individual blocks. Streaming, splitting and
// recovery live in the parent lzoscan package.
package lzop

import (
	"errors"
	"hash/adler32"
	"hash/crc32"
)

// Magic is the 9-byte sequence at the start of every lzop file.
var Magic = [9]byte{0x89, 'L', 'Z', 'O', 0x00, '\r', '\n', 0x1a, '\n'}

// MaxBlockSize is the maximum uncompressed size of a
// single block. The lzop tool never produces blocks
// larger than this, and readers reject length fields
// that exceed it rather than trust a corrupt stream.
const MaxBlockSize = 256 * 1024

// header flag bits, in file order
const (
	FlagAdler32D    uint32 = 1 << 0 // adler32 of uncompressed data
	FlagAdler32C    uint32 = 1 << 1 // adler32 of compressed data
	FlagStdin       uint32 = 1 << 2
	FlagStdout      uint32 = 1 << 3
	FlagNameDefault uint32 = 1 << 4
	FlagDosish      uint32 = 1 << 5
	FlagExtraField  uint32 = 1 << 6 // optional extra field present
	FlagGmtDiff     uint32 = 1 << 7
	FlagCRC32D      uint32 = 1 << 8 // crc32 of uncompressed data
	FlagCRC32C      uint32 = 1 << 9 // crc32 of compressed data
	FlagMultipart   uint32 = 1 << 10
	FlagFilter      uint32 = 1 << 11
	FlagHeaderCRC32 uint32 = 1 << 12 // header checksum is crc32, not adler32
	FlagPath        uint32 = 1 << 13
)

// compression methods
const (
	MethodLZO1X1   = 1
	MethodLZO1X115 = 2
	MethodLZO1X999 = 3
)

// file headers at or above this version carry the
// version-needed field, a compression-level byte,
// and a 64-bit modification time
const versionLevel = 0x0940

// maximum lzop version whose files we know how to read
const versionMax = 0x1040

var (
	// ErrFormat is returned when a file header or a
	// companion index file is structurally malformed.
	// It is fatal for the whole file.
	ErrFormat = errors.New("lzop: malformed input")

	// ErrChecksum is returned when the file header
	// checksum does not match the header bytes.
	// It is fatal for the whole file.
	ErrChecksum = errors.New("lzop: header checksum mismatch")

	// ErrCorrupt is returned when a block fails its
	// checksum, length plausibility, or decompression
	// checks and no index is available to recover from.
	// It is fatal only for the range that hit it.
	ErrCorrupt = errors.New("lzop: corrupt block")
)

// ChecksumKind selects the checksum algorithm applied
// to block data. The file header fixes one kind for
// uncompressed data and one for compressed data; they
// apply to every block in the file.
type ChecksumKind uint8

const (
	ChecksumNone ChecksumKind = iota
	ChecksumAdler32
	ChecksumCRC32
)

func (k ChecksumKind) String() string {
	switch k {
	case ChecksumNone:
		return "none"
	case ChecksumAdler32:
		return "adler32"
	case ChecksumCRC32:
		return "crc32"
	default:
		return "unknown"
	}
}

// Sum computes the checksum of buf.
// Sum of ChecksumNone is always zero.
func (k ChecksumKind) Sum(buf []byte) uint32 {
	switch k {
	case ChecksumAdler32:
		return adler32.Checksum(buf)
	case ChecksumCRC32:
		return crc32.ChecksumIEEE(buf)
	default:
		return 0
	}
}

// Size returns the encoded size in bytes of a
// checksum of kind k (4, or 0 for ChecksumNone).
func (k ChecksumKind) Size() int {
	if k == ChecksumNone {
		return 0
	}
	return 4
}
