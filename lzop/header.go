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
	"fmt"
	"io"
)

// FileHeader is the parsed lzop file header.
//
// A FileHeader is parsed once per file and then shared
// read-only by every scanner working on that file, so
// it must not be mutated after ParseHeader returns it.
type FileHeader struct {
	// Version is the version of the lzop tool
	// that produced the file.
	Version uint16
	// LibVersion is the version of the LZO library
	// the producer was linked against.
	LibVersion uint16
	// VersionNeeded is the minimum lzop version
	// required to extract the file. Zero for
	// legacy (pre-0.940) files.
	VersionNeeded uint16
	// Method is the compression method
	// (MethodLZO1X1, MethodLZO1X115 or MethodLZO1X999).
	Method byte
	// Level is the compression level (modern files only).
	Level byte
	// Flags is the raw header flags bitfield.
	Flags uint32
	// Filter is the preprocessing filter id,
	// or zero when no filter is in effect.
	Filter uint32
	// Mode is the unix mode of the original file.
	Mode uint32
	// MTime is the modification time of the original
	// file in seconds since the epoch.
	MTime int64
	// Name is the stored file name; may be empty.
	Name string
	// HeaderSize is the total encoded size of the
	// header in bytes, including the magic and any
	// extra field. The first block begins at this offset.
	HeaderSize int64

	// InCheck is the checksum kind applied to
	// uncompressed (decoded) block data.
	InCheck ChecksumKind
	// OutCheck is the checksum kind applied to
	// compressed block payloads.
	OutCheck ChecksumKind
}

// CompressionName returns the compr algorithm name
// for the header's compression method.
func (f *FileHeader) CompressionName() string {
	switch f.Method {
	case MethodLZO1X999:
		return "lzo1x-999"
	default:
		return "lzo1x"
	}
}

// headerReader reads header fields sequentially while
// accumulating the bytes covered by the header checksum
type headerReader struct {
	src io.Reader
	sum []byte // bytes after the magic, up to the checksum field
	n   int64  // total bytes consumed, including the magic
	tmp [8]byte
}

func (h *headerReader) read(n int) ([]byte, error) {
	buf := h.tmp[:n]
	_, err := io.ReadFull(h.src, buf)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("%w: truncated header: %s", ErrFormat, err)
	}
	h.n += int64(n)
	h.sum = append(h.sum, buf...)
	return buf, nil
}

func (h *headerReader) u16() (uint16, error) {
	buf, err := h.read(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf), nil
}

func (h *headerReader) u32() (uint32, error) {
	buf, err := h.read(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf), nil
}

func (h *headerReader) byte() (byte, error) {
	buf, err := h.read(1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

// ParseHeader reads and validates an lzop file header
// from the beginning of r. It verifies the magic, the
// declared versions, the compression method, and the
// header checksum, and records the total header size
// so callers know where the first block begins.
//
// The returned header is safe to share (read-only)
// across concurrent scanners of the same file.
func ParseHeader(r io.Reader) (*FileHeader, error) {
	var magic [9]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("%w: reading magic: %s", ErrFormat, err)
	}
	if magic != Magic {
		return nil, fmt.Errorf("%w: bad magic %x", ErrFormat, magic[:])
	}
	hr := &headerReader{src: r, n: int64(len(magic))}
	f := new(FileHeader)
	var err error
	if f.Version, err = hr.u16(); err != nil {
		return nil, err
	}
	if f.Version > versionMax {
		return nil, fmt.Errorf("%w: version %#x above maximum supported %#x", ErrFormat, f.Version, versionMax)
	}
	if f.LibVersion, err = hr.u16(); err != nil {
		return nil, err
	}
	if f.Version >= versionLevel {
		if f.VersionNeeded, err = hr.u16(); err != nil {
			return nil, err
		}
		if f.VersionNeeded > versionMax {
			return nil, fmt.Errorf("%w: need lzop version %#x to extract", ErrFormat, f.VersionNeeded)
		}
	}
	if f.Method, err = hr.byte(); err != nil {
		return nil, err
	}
	if f.Method < MethodLZO1X1 || f.Method > MethodLZO1X999 {
		return nil, fmt.Errorf("%w: unsupported compression method %d", ErrFormat, f.Method)
	}
	if f.Version >= versionLevel {
		if f.Level, err = hr.byte(); err != nil {
			return nil, err
		}
	}
	if f.Flags, err = hr.u32(); err != nil {
		return nil, err
	}
	if f.Flags&FlagMultipart != 0 {
		return nil, fmt.Errorf("%w: multipart archives not supported", ErrFormat)
	}
	if f.Flags&FlagFilter != 0 {
		if f.Filter, err = hr.u32(); err != nil {
			return nil, err
		}
	}
	if f.Mode, err = hr.u32(); err != nil {
		return nil, err
	}
	mtlow, err := hr.u32()
	if err != nil {
		return nil, err
	}
	f.MTime = int64(mtlow)
	if f.Version >= versionLevel {
		mthigh, err := hr.u32()
		if err != nil {
			return nil, err
		}
		f.MTime |= int64(mthigh) << 32
	}
	namelen, err := hr.byte()
	if err != nil {
		return nil, err
	}
	if namelen > 0 {
		name := make([]byte, namelen)
		if _, err := io.ReadFull(hr.src, name); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("%w: truncated file name: %s", ErrFormat, err)
		}
		hr.n += int64(namelen)
		hr.sum = append(hr.sum, name...)
		f.Name = string(name)
	}
	// the header checksum covers every byte after the
	// magic and before the checksum field itself
	kind := ChecksumAdler32
	if f.Flags&FlagHeaderCRC32 != 0 {
		kind = ChecksumCRC32
	}
	want := kind.Sum(hr.sum)
	sum := hr.sum
	got, err := hr.u32()
	if err != nil {
		return nil, err
	}
	if got != want {
		return nil, fmt.Errorf("%w: %s computed %#x, stored %#x over %d header bytes",
			ErrChecksum, kind, want, got, len(sum))
	}
	if f.Flags&FlagExtraField != 0 {
		if err := skipExtraField(hr, kind); err != nil {
			return nil, err
		}
	}
	f.HeaderSize = hr.n
	f.InCheck = ChecksumNone
	if f.Flags&FlagCRC32D != 0 {
		f.InCheck = ChecksumCRC32
	} else if f.Flags&FlagAdler32D != 0 {
		f.InCheck = ChecksumAdler32
	}
	f.OutCheck = ChecksumNone
	if f.Flags&FlagCRC32C != 0 {
		f.OutCheck = ChecksumCRC32
	} else if f.Flags&FlagAdler32C != 0 {
		f.OutCheck = ChecksumAdler32
	}
	return f, nil
}

// skipExtraField consumes the optional extra field:
// a 4-byte length, that many bytes, and a checksum of
// those bytes. The contents are not interpreted.
func skipExtraField(hr *headerReader, kind ChecksumKind) error {
	n, err := hr.u32()
	if err != nil {
		return err
	}
	if n > MaxBlockSize {
		return fmt.Errorf("%w: implausible extra field length %d", ErrFormat, n)
	}
	extra := make([]byte, n)
	if _, err := io.ReadFull(hr.src, extra); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("%w: truncated extra field: %s", ErrFormat, err)
	}
	hr.n += int64(n)
	// the extra-field checksum covers only the field
	// contents, not the length prefix
	want := kind.Sum(extra)
	got, err := hr.u32()
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: extra field %s computed %#x, stored %#x", ErrChecksum, kind, want, got)
	}
	return nil
}
