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
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/SnellerInc/lzoscan/internal/lzotest"
	"github.com/SnellerInc/lzoscan/lzop"

	"golang.org/x/exp/slices"
)

// collect runs a full scan of data.lzo in fsys and
// returns the emitted rows.
func collect(t *testing.T, run *Runner) ([]string, *Stats) {
	t.Helper()
	var mu sync.Mutex
	var rows []string
	stats, err := run.Scan(context.Background(), "data.lzo", func(row []byte) error {
		mu.Lock()
		rows = append(rows, string(row))
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return rows, stats
}

func wantLines(data []byte) []string {
	want := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	slices.Sort(want)
	return want
}

func TestRunnerScan(t *testing.T) {
	data := testLines(500)
	fsys := dataFS(data, &lzotest.FileOpts{
		Flags:     lzop.FlagAdler32D | lzop.FlagAdler32C,
		BlockSize: 512,
	}, true)
	run := &Runner{FS: fsys, Parallel: 4, Log: t.Logf}
	rows, stats := collect(t, run)
	want := wantLines(data)
	slices.Sort(rows)
	if !slices.Equal(rows, want) {
		t.Fatalf("got %d rows, want %d; every row must land in exactly one range",
			len(rows), len(want))
	}
	if stats.Rows != int64(len(want)) {
		t.Errorf("stats counted %d rows, want %d", stats.Rows, len(want))
	}
	if stats.Ranges < 4 {
		t.Errorf("only %d ranges for a multi-block file", stats.Ranges)
	}
	if len(stats.RangeErrs) != 0 {
		t.Errorf("unexpected range errors: %v", stats.RangeErrs)
	}
}

func TestRunnerScanNoTrailingNewline(t *testing.T) {
	data := testLines(100)
	data = append(data, "final row without a newline"...)
	fsys := dataFS(data, &lzotest.FileOpts{
		Flags:     lzop.FlagAdler32D,
		BlockSize: 512,
	}, true)
	run := &Runner{FS: fsys, Parallel: 4}
	rows, _ := collect(t, run)
	if !slices.Contains(rows, "final row without a newline") {
		t.Error("unterminated tail record was dropped")
	}
	if len(rows) != 101 {
		t.Errorf("got %d rows, want 101", len(rows))
	}
}

func TestRunnerScanRecordBoundaries(t *testing.T) {
	// 16-byte rows and 512-byte blocks: every block
	// boundary is also a record boundary, the case where
	// naive overrun rules emit boundary rows twice
	var buf bytes.Buffer
	for i := 0; i < 512; i++ {
		buf.WriteString(strings.Repeat(string(rune('a'+i%26)), 15))
		buf.WriteByte('\n')
	}
	data := buf.Bytes()
	fsys := dataFS(data, &lzotest.FileOpts{
		Flags:     lzop.FlagAdler32D,
		BlockSize: 512,
	}, true)
	run := &Runner{FS: fsys, Parallel: 8}
	rows, _ := collect(t, run)
	want := wantLines(data)
	slices.Sort(rows)
	if !slices.Equal(rows, want) {
		t.Fatalf("got %d rows, want %d", len(rows), len(want))
	}
}

func TestRunnerScanCorruptIndexed(t *testing.T) {
	data := testLines(500)
	file, offsets := lzotest.File(data, &lzotest.FileOpts{
		Flags:     lzop.FlagAdler32D,
		BlockSize: 512,
	})
	file[offsets[len(offsets)/2]+12] ^= 0x01
	fsys := testFS{fstest.MapFS{
		"data.lzo":       &fstest.MapFile{Data: file},
		"data.lzo.index": &fstest.MapFile{Data: lzotest.Index(offsets)},
	}}
	run := &Runner{FS: fsys, Parallel: 4, Log: t.Logf}
	rows, stats := collect(t, run)
	// the corrupt block is skipped by its own range and
	// again by the preceding range's boundary overrun
	if stats.SkippedBlocks == 0 {
		t.Error("corruption recovery did not skip any blocks")
	}
	if len(stats.RangeErrs) != 0 {
		t.Errorf("indexed recovery should not report range errors: %v", stats.RangeErrs)
	}
	// surviving rows are a subset of the original rows,
	// each emitted exactly once
	want := wantLines(data)
	slices.Sort(rows)
	if len(rows) >= len(want) || len(rows) == 0 {
		t.Fatalf("got %d rows of %d", len(rows), len(want))
	}
	for i := 1; i < len(rows); i++ {
		if rows[i] == rows[i-1] {
			t.Fatalf("row %q emitted twice", rows[i])
		}
	}
	for _, row := range rows {
		if _, ok := slices.BinarySearch(want, row); !ok {
			t.Fatalf("row %q not in the input", row)
		}
	}
}

func TestRunnerScanCorruptNoIndex(t *testing.T) {
	data := testLines(500)
	file, offsets := lzotest.File(data, &lzotest.FileOpts{
		Flags:     lzop.FlagAdler32D,
		BlockSize: 512,
	})
	file[offsets[len(offsets)/2]+12] ^= 0x01
	fsys := testFS{fstest.MapFS{
		"data.lzo": &fstest.MapFile{Data: file},
	}}
	run := &Runner{FS: fsys}
	rows, stats := collect(t, run)
	if len(stats.RangeErrs) != 1 {
		t.Fatalf("want 1 range error, got %v", stats.RangeErrs)
	}
	if !errors.Is(stats.RangeErrs[0], lzop.ErrCorrupt) {
		t.Errorf("range error %v should wrap ErrCorrupt", stats.RangeErrs[0])
	}
	// rows before the corruption still came through
	if len(rows) == 0 {
		t.Error("no partial result before the corrupt block")
	}
}

func TestRunnerScanEmitError(t *testing.T) {
	data := testLines(100)
	fsys := dataFS(data, &lzotest.FileOpts{BlockSize: 512}, true)
	run := &Runner{FS: fsys, Parallel: 2}
	boom := errors.New("downstream full")
	_, err := run.Scan(context.Background(), "data.lzo", func(row []byte) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want the emit error", err)
	}
}

func TestRunnerScanEmptyFile(t *testing.T) {
	// a blockless file has no index file (see cmd/lzindex)
	// and scans cleanly as a single empty range
	fsys := dataFS(nil, nil, false)
	run := &Runner{FS: fsys}
	rows, stats := collect(t, run)
	if len(rows) != 0 {
		t.Errorf("got %d rows from an empty file", len(rows))
	}
	if stats.Ranges != 1 || stats.Blocks != 0 {
		t.Errorf("ranges %d blocks %d, want 1 and 0", stats.Ranges, stats.Blocks)
	}
	if len(stats.RangeErrs) != 0 {
		t.Errorf("unexpected range errors: %v", stats.RangeErrs)
	}
}

func TestRunnerScanMissingFile(t *testing.T) {
	run := &Runner{FS: testFS{fstest.MapFS{}}}
	_, err := run.Scan(context.Background(), "nope.lzo", func([]byte) error { return nil })
	if err == nil {
		t.Fatal("scan of a missing file should fail")
	}
}

func TestRunnerConcat(t *testing.T) {
	data := testLines(500)
	fsys := dataFS(data, &lzotest.FileOpts{
		Flags:     lzop.FlagAdler32D | lzop.FlagAdler32C,
		BlockSize: 512,
	}, true)
	run := &Runner{FS: fsys, Parallel: 4}
	var out bytes.Buffer
	stats, err := run.Concat(context.Background(), "data.lzo", &out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out.Bytes(), data) {
		t.Fatalf("concat produced %d bytes, want %d, in file order", out.Len(), len(data))
	}
	if stats.Bytes != int64(len(data)) {
		t.Errorf("stats counted %d bytes, want %d", stats.Bytes, len(data))
	}
}

func TestRunnerConcatNoIndex(t *testing.T) {
	data := testLines(100)
	fsys := dataFS(data, &lzotest.FileOpts{BlockSize: 512}, false)
	run := &Runner{FS: fsys}
	var out bytes.Buffer
	if _, err := run.Concat(context.Background(), "data.lzo", &out); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out.Bytes(), data) {
		t.Fatalf("concat produced %d bytes, want %d", out.Len(), len(data))
	}
}
