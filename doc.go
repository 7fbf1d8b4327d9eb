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

// Package lzoscan reads lzop-compressed text files in
// parallel, fault-tolerant byte ranges.
//
// An lzop file is a header followed by independently
// compressed blocks. When a companion index file (see
// lzop.IndexSuffix) lists the block start offsets, the
// file is splittable: a Splitter turns it into byte
// Ranges, one Scanner decodes each Range independently,
// and a corrupt block costs only the rows between it and
// the next indexed block instead of the whole file.
// Without an index the file is scanned as a single range
// and corruption is unrecoverable for that range.
//
// The Runner ties the pieces together for whole-file
// scans; callers that schedule ranges themselves can use
// Splitter, Scanner and textrow.Chopper directly.
package lzoscan
