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
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/SnellerInc/lzoscan/internal/lzotest"
	"github.com/SnellerInc/lzoscan/lzop"
)

// testRange builds a whole-file Range over file,
// with or without its block index.
func testRange(t *testing.T, file []byte, offsets []int64, indexed bool) *Range {
	t.Helper()
	hdr, err := lzop.ParseHeader(bytes.NewReader(file))
	if err != nil {
		t.Fatal(err)
	}
	rng := &Range{
		Path:     "data.lzo",
		Start:    hdr.HeaderSize,
		End:      int64(len(file)),
		FileSize: int64(len(file)),
		Header:   hdr,
	}
	if indexed {
		rng.Index = lzop.Index(offsets)
		rng.Splittable = true
	}
	return rng
}

// drain decodes every block of sc and returns the
// concatenated uncompressed bytes.
func drain(t *testing.T, sc *Scanner) []byte {
	t.Helper()
	var scope Scope
	defer scope.Close()
	var out []byte
	for {
		buf, err := sc.Next(&scope)
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, buf...)
		scope.Close()
	}
}

func testLines(n int) []byte {
	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		fmt.Fprintf(&buf, "row %05d: some text to make the block compressible\n", i)
	}
	return buf.Bytes()
}

func TestScannerWholeFile(t *testing.T) {
	data := testLines(100)
	file, offsets := lzotest.File(data, &lzotest.FileOpts{
		Flags:     lzop.FlagAdler32D | lzop.FlagAdler32C,
		BlockSize: 512,
	})
	for _, indexed := range []bool{false, true} {
		rng := testRange(t, file, offsets, indexed)
		sc := NewScanner(rng, bytes.NewReader(file))
		got := drain(t, sc)
		if !bytes.Equal(got, data) {
			t.Errorf("indexed=%v: decoded %d bytes, want %d", indexed, len(got), len(data))
		}
		if sc.Blocks != int64(len(offsets)) {
			t.Errorf("indexed=%v: decoded %d blocks, want %d", indexed, sc.Blocks, len(offsets))
		}
		// the end-of-stream marker makes EOF sticky
		var scope Scope
		if _, err := sc.Next(&scope); err != io.EOF {
			t.Errorf("indexed=%v: after EOF: %v", indexed, err)
		}
	}
}

func TestScannerStoredCRC32(t *testing.T) {
	data := testLines(20)
	file, offsets := lzotest.File(data, &lzotest.FileOpts{
		Flags:     lzop.FlagCRC32D | lzop.FlagCRC32C,
		BlockSize: 512,
		Stored:    true,
	})
	rng := testRange(t, file, offsets, false)
	sc := NewScanner(rng, bytes.NewReader(file))
	if got := drain(t, sc); !bytes.Equal(got, data) {
		t.Errorf("decoded %d bytes, want %d", len(got), len(data))
	}
}

func TestScannerNoChecksums(t *testing.T) {
	data := testLines(20)
	file, offsets := lzotest.File(data, &lzotest.FileOpts{BlockSize: 512})
	rng := testRange(t, file, offsets, false)
	sc := NewScanner(rng, bytes.NewReader(file))
	if got := drain(t, sc); !bytes.Equal(got, data) {
		t.Errorf("decoded %d bytes, want %d", len(got), len(data))
	}
}

func TestScannerCorruptNoIndex(t *testing.T) {
	data := testLines(100)
	file, offsets := lzotest.File(data, &lzotest.FileOpts{
		Flags:     lzop.FlagAdler32D,
		BlockSize: 512,
	})
	// flip one payload byte of the second block
	file[offsets[1]+12] ^= 0x01
	rng := testRange(t, file, offsets, false)
	sc := NewScanner(rng, bytes.NewReader(file))
	var scope Scope
	defer scope.Close()
	if _, err := sc.Next(&scope); err != nil {
		t.Fatalf("first block should decode: %s", err)
	}
	_, err := sc.Next(&scope)
	if !errors.Is(err, lzop.ErrCorrupt) {
		t.Fatalf("got %v, want ErrCorrupt", err)
	}
	// unrecoverable errors are sticky
	if _, again := sc.Next(&scope); again != err {
		t.Errorf("second call returned %v, want the same error", again)
	}
}

func TestScannerRecovery(t *testing.T) {
	data := testLines(100)
	file, offsets := lzotest.File(data, &lzotest.FileOpts{
		Flags:     lzop.FlagAdler32D,
		BlockSize: 512,
	})
	if len(offsets) < 4 {
		t.Fatalf("want at least 4 blocks, got %d", len(offsets))
	}
	file[offsets[1]+12] ^= 0x01
	rng := testRange(t, file, offsets, true)
	sc := NewScanner(rng, bytes.NewReader(file))
	got := drain(t, sc)
	if sc.SkippedBlocks != 1 {
		t.Errorf("skipped %d blocks, want 1", sc.SkippedBlocks)
	}
	if sc.Blocks != int64(len(offsets)-1) {
		t.Errorf("decoded %d blocks, want %d", sc.Blocks, len(offsets)-1)
	}
	// everything but the one corrupt 512-byte block survives
	if len(got) != len(data)-512 {
		t.Errorf("recovered %d of %d bytes", len(got), len(data))
	}
	if !bytes.HasPrefix(data, got[:512]) {
		t.Error("first block content mangled")
	}
	if !bytes.HasSuffix(data, got[len(got)-512:]) {
		t.Error("last block content mangled")
	}
}

func TestScannerRangeBounds(t *testing.T) {
	data := testLines(100)
	file, offsets := lzotest.File(data, &lzotest.FileOpts{
		Flags:     lzop.FlagAdler32D,
		BlockSize: 512,
	})
	if len(offsets) < 3 {
		t.Fatalf("want at least 3 blocks, got %d", len(offsets))
	}
	hdr, err := lzop.ParseHeader(bytes.NewReader(file))
	if err != nil {
		t.Fatal(err)
	}
	rng := &Range{
		Path:       "data.lzo",
		Start:      offsets[0],
		End:        offsets[1],
		FileSize:   int64(len(file)),
		Header:     hdr,
		Index:      lzop.Index(offsets),
		Splittable: true,
	}
	sc := NewScanner(rng, bytes.NewReader(file))
	var scope Scope
	defer scope.Close()
	buf, err := sc.Next(&scope)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, data[:512]) {
		t.Error("first block content mangled")
	}
	// the range owns exactly one block
	if _, err := sc.Next(&scope); err != io.EOF {
		t.Fatalf("got %v, want EOF at range end", err)
	}
	// overrun continues into the next range's blocks
	buf, err = sc.NextOverrun(&scope)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, data[512:1024]) {
		t.Error("overrun block content mangled")
	}
}

func TestScannerSkipChecks(t *testing.T) {
	data := testLines(20)
	file, offsets := lzotest.File(data, &lzotest.FileOpts{
		Flags:     lzop.FlagAdler32D,
		BlockSize: 512,
	})
	// corrupt the stored checksum field, not the payload
	file[offsets[0]+8] ^= 0xff
	rng := testRange(t, file, offsets, false)
	sc := NewScanner(rng, bytes.NewReader(file))
	var scope Scope
	defer scope.Close()
	if _, err := sc.Next(&scope); !errors.Is(err, lzop.ErrCorrupt) {
		t.Fatalf("got %v, want ErrCorrupt with verification on", err)
	}
	sc = NewScanner(rng, bytes.NewReader(file))
	sc.SkipChecks()
	if got := drain(t, sc); !bytes.Equal(got, data) {
		t.Errorf("decoded %d bytes, want %d", len(got), len(data))
	}
}

func TestScannerTruncatedFile(t *testing.T) {
	data := testLines(100)
	file, offsets := lzotest.File(data, &lzotest.FileOpts{
		Flags:     lzop.FlagAdler32D,
		BlockSize: 512,
	})
	// cut the end-of-stream marker plus the last payload byte
	trunc := file[:len(file)-5]
	rng := testRange(t, trunc, offsets, false)
	sc := NewScanner(rng, bytes.NewReader(trunc))
	var scope Scope
	defer scope.Close()
	var err error
	for err == nil {
		_, err = sc.Next(&scope)
		scope.Close()
	}
	if !errors.Is(err, lzop.ErrCorrupt) {
		t.Errorf("got %v, want ErrCorrupt for truncated payload", err)
	}
}
