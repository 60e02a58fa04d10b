// Package memory classifies a process's memory mappings into categories
// for metrics. It is best-effort: malformed input degrades to "other" and
// nothing here returns a parse error.
package memory

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// Category is a semantic bucket for resident memory.
type Category string

const (
	Code            Category = "code"
	NativeHeap      Category = "native_heap"
	NativeHeapArena Category = "native_heap_arena"
	RuntimeHeap     Category = "runtime_heap"
	CodeCache       Category = "code_cache"
	ThreadStack     Category = "thread_stack"
	Archive         Category = "archive"
	Other           Category = "other"
)

// Categories lists every category in reporting order.
var Categories = []Category{Code, NativeHeap, NativeHeapArena, RuntimeHeap, CodeCache, ThreadStack, Archive, Other}

// Region is one mapping from /proc/<pid>/smaps. Sizes are in kB.
type Region struct {
	Start, End uint64
	Perms      string
	Offset     uint64
	Dev        string
	Inode      uint64
	Label      string
	Size       uint64
	RSS        uint64
	Swap       uint64
	PageSize   uint64 // KernelPageSize, kB
	Category   Category
}

// Anonymous reports a mapping with no backing file. Kernel pseudo-mappings
// like [heap] and [stack] count as anonymous.
func (r Region) Anonymous() bool {
	return r.Inode == 0 && !strings.HasPrefix(r.Label, "/")
}

func (r Region) Readable() bool   { return len(r.Perms) > 0 && r.Perms[0] == 'r' }
func (r Region) Writable() bool   { return len(r.Perms) > 1 && r.Perms[1] == 'w' }
func (r Region) Executable() bool { return len(r.Perms) > 2 && r.Perms[2] == 'x' }

// NoAccess is the ---p pattern of guard pages and reservations.
func (r Region) NoAccess() bool { return strings.HasPrefix(r.Perms, "---") }

// Parse reads smaps-formatted text. Lines it does not understand are
// skipped; a truncated record keeps whatever was read.
func Parse(rd io.Reader) []Region {
	var (
		out []Region
		cur *Region
	)
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if r, ok := parseHeader(line); ok {
			out = append(out, r)
			cur = &out[len(out)-1]
			continue
		}
		if cur == nil {
			continue
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch key {
		case "Size":
			cur.Size = parseKB(val)
		case "Rss":
			cur.RSS = parseKB(val)
		case "Swap":
			cur.Swap = parseKB(val)
		case "KernelPageSize":
			cur.PageSize = parseKB(val)
		}
	}
	return out
}

// parseHeader recognises "start-end perms offset dev inode [label]".
func parseHeader(line string) (Region, bool) {
	f := strings.Fields(line)
	if len(f) < 5 {
		return Region{}, false
	}
	lo, hi, ok := strings.Cut(f[0], "-")
	if !ok {
		return Region{}, false
	}
	start, err1 := strconv.ParseUint(lo, 16, 64)
	end, err2 := strconv.ParseUint(hi, 16, 64)
	if err1 != nil || err2 != nil || end < start || len(f[1]) != 4 {
		return Region{}, false
	}
	off, err := strconv.ParseUint(f[2], 16, 64)
	if err != nil {
		return Region{}, false
	}
	inode, err := strconv.ParseUint(f[4], 10, 64)
	if err != nil {
		return Region{}, false
	}
	r := Region{Start: start, End: end, Perms: f[1], Offset: off, Dev: f[3], Inode: inode}
	if len(f) > 5 {
		r.Label = strings.Join(f[5:], " ")
	}
	r.Size = (end - start) / 1024
	return r, true
}

func parseKB(v string) uint64 {
	f := strings.Fields(v)
	if len(f) == 0 {
		return 0
	}
	n, err := strconv.ParseUint(f[0], 10, 64)
	if err != nil {
		return 0
	}
	return n
}
