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
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/SnellerInc/lzoscan/lzop"
	"github.com/SnellerInc/lzoscan/textrow"

	"github.com/google/uuid"
)

// Runner scans whole lzop files: it splits each file
// into ranges, fans the ranges out to parallel workers,
// and feeds the decoded text records to a caller
// callback. An unrecoverable corruption in one range
// fails only that range; the rest of the file is still
// scanned and the partial result is reported in Stats.
type Runner struct {
	// FS is the filesystem holding data and index files.
	// Files opened through it must support io.ReaderAt.
	FS InputFS
	// Parallel is the number of concurrent range
	// workers; 0 means GOMAXPROCS.
	Parallel int
	// MinRangeSize is forwarded to the Splitter.
	MinRangeSize int64
	// SkipChecks disables block checksum verification
	// in every scanner, for transports that already
	// checksum reads end-to-end.
	SkipChecks bool
	// Log, if non-nil, receives diagnostics.
	Log func(f string, args ...interface{})
}

// Stats summarizes one file scan.
type Stats struct {
	// ID identifies this scan in diagnostics.
	ID uuid.UUID
	// Ranges is the number of data ranges scanned.
	Ranges int
	// Blocks and SkippedBlocks count blocks decoded
	// and blocks skipped by corruption recovery.
	Blocks, SkippedBlocks int64
	// Bytes is the total decompressed byte count.
	Bytes int64
	// Rows is the number of records emitted.
	Rows int64
	// RangeErrs holds the per-range errors of ranges
	// that failed with unrecoverable corruption. The
	// scan result is partial when it is non-empty.
	RangeErrs []error

	mu sync.Mutex
}

func (r *Runner) logf(f string, args ...interface{}) {
	if r.Log != nil {
		r.Log(f, args...)
	}
}

func (r *Runner) parallel() int {
	if r.Parallel > 0 {
		return r.Parallel
	}
	return runtime.GOMAXPROCS(0)
}

// Scan scans the lzop file at path and calls emit once
// per text record. emit may be called concurrently from
// multiple workers; the row slice is only valid during
// the call.
//
// File-level problems (bad header, bad index) abort the
// scan. Unrecoverable corruption inside a range is
// reported in Stats.RangeErrs instead, and every other
// range still contributes rows.
func (r *Runner) Scan(ctx context.Context, path string, emit func(row []byte) error) (*Stats, error) {
	split := &Splitter{FS: r.FS, MinRangeSize: r.MinRangeSize, Log: r.Log}
	ranges, err := split.Split(path)
	if err != nil {
		return nil, err
	}
	f, err := r.FS.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	src, ok := f.(io.ReaderAt)
	if !ok {
		return nil, fmt.Errorf("%s: %T does not implement io.ReaderAt", path, f)
	}
	stats := &Stats{ID: uuid.New(), Ranges: len(ranges)}
	r.logf("scan %s: %s: %d ranges", stats.ID, path, len(ranges))
	err = r.run(ctx, ranges, func(rng *Range) error {
		sc := NewScanner(rng, src)
		if r.SkipChecks {
			sc.SkipChecks()
		}
		rows, bytes, err := r.scanRange(ctx, sc, rng, emit)
		stats.add(rows, bytes, sc)
		return err
	}, stats)
	if err != nil {
		return stats, err
	}
	return stats, nil
}

// Concat decompresses the file at path and writes the
// raw decoded bytes to w in file order. Ranges are
// decoded in parallel and re-assembled sequentially.
func (r *Runner) Concat(ctx context.Context, path string, w io.Writer) (*Stats, error) {
	split := &Splitter{FS: r.FS, MinRangeSize: r.MinRangeSize, Log: r.Log}
	ranges, err := split.Split(path)
	if err != nil {
		return nil, err
	}
	f, err := r.FS.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	src, ok := f.(io.ReaderAt)
	if !ok {
		return nil, fmt.Errorf("%s: %T does not implement io.ReaderAt", path, f)
	}
	stats := &Stats{ID: uuid.New(), Ranges: len(ranges)}
	out := make([]bytes.Buffer, len(ranges))
	err = r.runIndexed(ctx, ranges, func(i int, rng *Range) error {
		sc := NewScanner(rng, src)
		if r.SkipChecks {
			sc.SkipChecks()
		}
		var scope Scope
		defer scope.Close()
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			buf, err := sc.Next(&scope)
			if err == io.EOF {
				break
			}
			if err != nil {
				stats.addScanner(sc)
				return err
			}
			out[i].Write(buf)
			scope.Close()
		}
		stats.addScanner(sc)
		return nil
	}, stats)
	if err != nil {
		return stats, err
	}
	for i := range out {
		n, err := w.Write(out[i].Bytes())
		stats.addBytes(int64(n))
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// run distributes ranges over parallel workers. fn
// errors wrapping lzop.ErrCorrupt are collected as
// per-range partial failures; any other error cancels
// the remaining work and is returned.
func (r *Runner) run(ctx context.Context, ranges []Range, fn func(*Range) error, stats *Stats) error {
	return r.runIndexed(ctx, ranges, func(_ int, rng *Range) error {
		return fn(rng)
	}, stats)
}

func (r *Runner) runIndexed(ctx context.Context, ranges []Range, fn func(int, *Range) error, stats *Stats) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	work := make(chan int)
	var wg sync.WaitGroup
	var firstErr error
	var errmu sync.Mutex
	workers := r.parallel()
	if workers > len(ranges) {
		workers = len(ranges)
	}
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range work {
				err := fn(i, &ranges[i])
				if err == nil {
					continue
				}
				if errors.Is(err, lzop.ErrCorrupt) {
					// partial result: this range is lost,
					// but the others are unaffected
					r.logf("scan %s: range %d: %s", stats.ID, i, err)
					stats.addRangeErr(err)
					continue
				}
				errmu.Lock()
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				errmu.Unlock()
				return
			}
		}()
	}
sending:
	for i := range ranges {
		select {
		case work <- i:
		case <-ctx.Done():
			break sending
		}
	}
	close(work)
	wg.Wait()
	errmu.Lock()
	err := firstErr
	errmu.Unlock()
	if err == nil {
		err = ctx.Err()
	}
	return err
}

// scanRange decodes one range and chops it into records.
//
// Record/range alignment works as follows: every range
// except the file's first discards bytes up to its first
// record boundary, and in exchange each range keeps
// decoding past its own end bound until it has closed
// the record that was open at the bound (or, when the
// range ends exactly on a boundary, the one record that
// begins there, since the next range will discard it).
func (r *Runner) scanRange(ctx context.Context, sc *Scanner, rng *Range, emit func([]byte) error) (rows, nbytes int64, err error) {
	var scope Scope
	defer scope.Close()
	chop := textrow.Chopper{SkipLeading: !rng.first()}
	each := func(row []byte) error {
		rows++
		return emit(row)
	}
	for {
		if err := ctx.Err(); err != nil {
			return rows, nbytes, err
		}
		skipped := sc.SkippedBlocks
		buf, err := sc.Next(&scope)
		if err == io.EOF {
			if sc.SkippedBlocks != skipped {
				// the tail of the range was lost to
				// corruption; the record open at the
				// gap cannot be completed
				return rows, nbytes, nil
			}
			break
		}
		if err != nil {
			return rows, nbytes, err
		}
		if sc.SkippedBlocks != skipped {
			// bytes went missing; both halves of the
			// record around the gap are unusable
			chop.Resync()
		}
		nbytes += int64(len(buf))
		if err := chop.Chop(buf, each); err != nil {
			return rows, nbytes, err
		}
		scope.Close()
	}
	if !chop.Started() {
		// the whole range is the middle of one giant
		// record owned by an earlier range
		return rows, nbytes, nil
	}
	for {
		skipped := sc.SkippedBlocks
		buf, err := sc.NextOverrun(&scope)
		if err == io.EOF {
			// end of file: emit the unterminated tail
			return rows, nbytes, chop.Flush(each)
		}
		if err != nil {
			return rows, nbytes, err
		}
		if sc.SkippedBlocks != skipped {
			// the boundary record spans the gap; drop it
			return rows, nbytes, nil
		}
		nbytes += int64(len(buf))
		done, err := chop.Tail(buf, each)
		if err != nil {
			return rows, nbytes, err
		}
		scope.Close()
		if done {
			return rows, nbytes, nil
		}
	}
}

func (s *Stats) add(rows, nbytes int64, sc *Scanner) {
	s.mu.Lock()
	s.Rows += rows
	s.Bytes += nbytes
	s.Blocks += sc.Blocks
	s.SkippedBlocks += sc.SkippedBlocks
	s.mu.Unlock()
}

func (s *Stats) addScanner(sc *Scanner) {
	s.mu.Lock()
	s.Blocks += sc.Blocks
	s.SkippedBlocks += sc.SkippedBlocks
	s.mu.Unlock()
}

func (s *Stats) addBytes(n int64) {
	s.mu.Lock()
	s.Bytes += n
	s.mu.Unlock()
}

func (s *Stats) addRangeErr(err error) {
	s.mu.Lock()
	s.RangeErrs = append(s.RangeErrs, err)
	s.mu.Unlock()
}
