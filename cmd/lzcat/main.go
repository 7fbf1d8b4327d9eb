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

// lzcat decompresses lzop files to standard output.
//
// Files with a companion ".index" file are decoded by
// parallel workers, one byte range each; files without
// one are decoded sequentially.
//
// Usage:
//
//	lzcat [-p workers] [-n] [-v] file.lzo ...
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/SnellerInc/lzoscan"
)

var (
	parallel   = flag.Int("p", 0, "parallel range workers (0 = GOMAXPROCS)")
	skipChecks = flag.Bool("n", false, "skip block checksum verification")
	verbose    = flag.Bool("v", false, "log scan statistics to stderr")
)

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: lzcat [-p workers] [-n] [-v] file.lzo ...")
		os.Exit(1)
	}
	out := bufio.NewWriter(os.Stdout)
	for _, arg := range args {
		dir, name := filepath.Split(arg)
		if dir == "" {
			dir = "."
		}
		run := &lzoscan.Runner{
			FS:       lzoscan.NewDirFS(dir),
			Parallel: *parallel,
		}
		if *skipChecks {
			run.SkipChecks = true
		}
		if *verbose {
			run.Log = log.Printf
		}
		stats, err := run.Concat(context.Background(), name, out)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %s\n", arg, err)
			os.Exit(1)
		}
		for _, rerr := range stats.RangeErrs {
			fmt.Fprintf(os.Stderr, "%s: partial output: %s\n", arg, rerr)
		}
		if *verbose {
			log.Printf("%s: %d ranges, %d blocks, %d bytes",
				arg, stats.Ranges, stats.Blocks, stats.Bytes)
		}
	}
	if err := out.Flush(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
