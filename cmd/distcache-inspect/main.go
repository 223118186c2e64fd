// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Command distcache-inspect is a debugging aid for a distcache cache
// directory. It has no access to a live descriptor table (that index
// only ever exists in the owning process's memory, never on disk), so
// it cannot tell a reclaimed gap from a live chunk; what it reports is
// a best-effort sequential walk of each file's chunk headers, valid
// only for a set that hasn't had an in-place overwrite leave an
// interior gap.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

func main() {
	dir := flag.String("dir", "./cache", "cache directory to inspect")
	decode := flag.Bool("decode", false, "walk each file's chunk headers sequentially")
	flag.Parse()

	sets, err := discoverSets(*dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "distcache-inspect:", err)
		os.Exit(1)
	}
	if len(sets) == 0 {
		fmt.Printf("no cache files found in %s\n", *dir)
		return
	}
	for _, set := range sets {
		printSet(*dir, set, *decode)
	}
}

// cacheSet groups every file sharing one <prefix><rand8hex> stem.
type cacheSet struct {
	stem  string
	files []string // contiguous by file number, in order
}

// discoverSets lists every *.cache file in dir and groups it by stem
// (everything before the trailing "<N>.cache"), reporting the files in
// file-number order. A stem's set stops at the first missing number,
// matching the contiguous-numbering contract CacheFileSet relies on;
// any higher-numbered file for that stem is reported separately as an
// anomaly rather than silently skipped.
func discoverSets(dir string) ([]cacheSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	byStem := map[string]map[int]string{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".cache") {
			continue
		}
		stem, n, ok := splitCacheName(e.Name())
		if !ok {
			continue
		}
		if byStem[stem] == nil {
			byStem[stem] = map[int]string{}
		}
		byStem[stem][n] = e.Name()
	}
	var stems []string
	for stem := range byStem {
		stems = append(stems, stem)
	}
	sort.Strings(stems)

	var sets []cacheSet
	for _, stem := range stems {
		numbered := byStem[stem]
		var files []string
		for i := 0; ; i++ {
			name, ok := numbered[i]
			if !ok {
				break
			}
			files = append(files, name)
		}
		for n, name := range numbered {
			if n >= len(files) {
				fmt.Fprintf(os.Stderr, "distcache-inspect: anomaly: %s (file %d) follows a gap in set %s\n", name, n, stem)
			}
		}
		sets = append(sets, cacheSet{stem: stem, files: files})
	}
	return sets, nil
}

// splitCacheName splits "<stem><N>.cache" into stem and N. The file
// number is the maximal trailing run of digits before the extension.
func splitCacheName(name string) (stem string, n int, ok bool) {
	base := strings.TrimSuffix(name, ".cache")
	i := len(base)
	for i > 0 && base[i-1] >= '0' && base[i-1] <= '9' {
		i--
	}
	if i == len(base) {
		return "", 0, false
	}
	digits := base[i:]
	var v int
	for _, c := range digits {
		v = v*10 + int(c-'0')
	}
	return base[:i], v, true
}

func printSet(dir string, set cacheSet, decode bool) {
	fmt.Printf("%s (%d file(s))\n", set.stem, len(set.files))
	var total int64
	for i, name := range set.files {
		path := filepath.Join(dir, name)
		fi, err := os.Stat(path)
		if err != nil {
			fmt.Printf("  [%d] %s: stat error: %v\n", i, name, err)
			continue
		}
		total += fi.Size()
		fmt.Printf("  [%d] %s: %d bytes\n", i, name, fi.Size())
		if decode {
			walkChunks(path, fi.Size())
		}
	}
	fmt.Printf("  total: %d bytes\n", total)
}

// walkChunks sequentially parses path as a concatenation of dense or
// MD chunk headers, guessing the format per header: the dense
// interpretation is tried first, then the MD one, and the first whose
// byte count is larger than a bare header and fits in the rest of the
// file is taken. It stops at the first header it cannot account for,
// which is expected once any in-place overwrite has left an interior
// gap this tool has no index to see past.
func walkChunks(path string, size int64) {
	f, err := os.Open(path)
	if err != nil {
		fmt.Printf("      open error: %v\n", err)
		return
	}
	defer f.Close()

	var off int64
	hdr := make([]byte, 16)
	for off+16 <= size {
		if _, err := f.ReadAt(hdr, off); err != nil {
			fmt.Printf("      [0x%x] read error: %v\n", off, err)
			return
		}
		a := binary.LittleEndian.Uint64(hdr[0:8])
		b := binary.LittleEndian.Uint64(hdr[8:16])

		// Dense: a = dims, b = count.
		denseBytes := int64(16 + a*b*8)
		// MD: a = count, b = dims.
		mdBytes := int64(16 + a*8 + a*b*8)

		switch {
		case off+denseBytes <= size && denseBytes > 16:
			fmt.Printf("      [0x%x] dense chunk: dims=%d count=%d (%d bytes)\n", off, a, b, denseBytes)
			off += denseBytes
		case off+mdBytes <= size && mdBytes > 16:
			fmt.Printf("      [0x%x] md chunk: count=%d dims=%d (%d bytes)\n", off, a, b, mdBytes)
			off += mdBytes
		default:
			fmt.Printf("      [0x%x] unrecognized header, stopping walk\n", off)
			return
		}
	}
}
