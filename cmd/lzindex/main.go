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

// lzindex writes the companion block-index file that
// makes an lzop file splittable. It walks every block
// header in the file without decompressing anything and
// records each block's start offset.
//
// Usage:
//
//	lzindex [-f] file.lzo ...
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/SnellerInc/lzoscan/lzop"
)

var force = flag.Bool("f", false, "overwrite an existing index file")

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: lzindex [-f] file.lzo ...")
		os.Exit(1)
	}
	for _, arg := range args {
		if err := index(arg); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %s\n", arg, err)
			os.Exit(1)
		}
	}
}

func index(path string) error {
	ipath := path + lzop.IndexSuffix
	if !*force {
		if _, err := os.Stat(ipath); err == nil {
			return fmt.Errorf("%s already exists (use -f to overwrite)", ipath)
		}
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := lzop.ParseHeader(f)
	if err != nil {
		return err
	}
	ix, err := lzop.BuildIndex(f, hdr, info.Size())
	if err != nil {
		return err
	}
	if len(ix) == 0 {
		// an empty file has no blocks to index, and a
		// zero-entry index file would be rejected as
		// corrupt when read back
		fmt.Fprintf(os.Stderr, "%s: no blocks; not writing an index\n", path)
		return nil
	}
	out, err := os.CreateTemp(filepath.Dir(ipath), "lzindex-*")
	if err != nil {
		return err
	}
	defer os.Remove(out.Name())
	if _, err := ix.WriteTo(out); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(out.Name(), ipath)
}
