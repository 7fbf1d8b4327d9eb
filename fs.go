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
	"encoding/base32"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"

	"golang.org/x/crypto/blake2b"
)

// InputFS is the filesystem from which data files and
// their companion index files are read.
type InputFS interface {
	fs.FS

	// ETag returns a string that uniquely identifies
	// the contents of the file at fullpath. It should
	// change when the file contents change.
	ETag(fullpath string, info fs.FileInfo) (string, error)
}

// NewDirFS constructs a DirFS rooted at dir.
func NewDirFS(dir string) *DirFS {
	return &DirFS{
		FS:   os.DirFS(dir),
		Root: dir,
	}
}

// DirFS is an InputFS rooted in a local directory.
type DirFS struct {
	fs.FS
	Root string
	Log  func(f string, args ...interface{})
}

func hashFile(r io.Reader) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	_, err = io.Copy(h, r)
	if err != nil {
		return "", err
	}
	return "b2sum:" + base32.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// ETag implements InputFS.ETag
func (d *DirFS) ETag(fullpath string, info fs.FileInfo) (string, error) {
	fullpath = path.Clean(fullpath)
	if d.Log != nil {
		d.Log("ETag %s", fullpath)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("cannot get ETag of non-regular file %s", fullpath)
	}
	f, err := d.Open(fullpath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return hashFile(f)
}
