package memory

import (
	"os"
	"slices"
	"strconv"
	"strings"
)

type stage int

const (
	stageCode stage = iota
	stageNativeHeap
	stageRuntimeHeap
	stageRest
)

// arenaKB is the reservation size of a malloc arena: the rw-p part and the
// ---p tail always add up to it.
const arenaKB = 64 * 1024

// window is what a transition may look at. prev and next are nil at the
// edges.
type window struct {
	prev, cur, next *Region
	pageKB          uint64
}

// step classifies w.cur in stage s and returns the stage for the next
// region. It has no other inputs and no side effects.
func step(s stage, w window) (Category, stage) {
	cur := w.cur
	switch s {
	case stageCode:
		if cur.Label == "[heap]" {
			return NativeHeap, stageNativeHeap
		}
		if !cur.Anonymous() {
			return Code, stageCode
		}
		return Other, stageCode
	case stageNativeHeap:
		switch {
		case cur.Label == "[heap]":
			return NativeHeap, stageNativeHeap
		case strings.HasPrefix(cur.Label, "["):
			return restCategory(w), stageNativeHeap
		case !cur.Anonymous():
			return fileCategory(cur), stageNativeHeap
		case cur.Writable() && !isArena(w):
			return RuntimeHeap, stageRuntimeHeap
		default:
			return NativeHeapArena, stageNativeHeap
		}
	case stageRuntimeHeap:
		if cur.Anonymous() && cur.Label == "" && w.prev != nil && w.prev.End == cur.Start && !isArena(w) {
			return RuntimeHeap, stageRuntimeHeap
		}
		return step(stageRest, w)
	default:
		return restCategory(w), stageRest
	}
}

func restCategory(w window) Category {
	cur := w.cur
	switch {
	case strings.HasPrefix(cur.Label, "[stack"):
		return ThreadStack
	case cur.Label == "[heap]":
		return NativeHeap
	case !cur.Anonymous():
		return fileCategory(cur)
	case isGuard(w) || followsGuard(w):
		return ThreadStack
	case isArena(w):
		return NativeHeapArena
	case cur.Executable():
		// anonymous executable memory is JIT output
		return CodeCache
	default:
		return Other
	}
}

func fileCategory(r *Region) Category {
	switch {
	case strings.HasSuffix(r.Label, ".jsa"), strings.HasSuffix(r.Label, ".jar"),
		strings.HasSuffix(r.Label, "/modules"):
		return Archive
	case r.Executable():
		return Code
	default:
		return Other
	}
}

func pageKB(w window, r *Region) uint64 {
	if r.PageSize > 0 {
		return r.PageSize
	}
	return w.pageKB
}

// isGuard: a no-access page directly below an adjacent rw-p stack body.
func isGuard(w window) bool {
	c, n := w.cur, w.next
	return c.NoAccess() && c.Anonymous() && c.Size > 0 && c.Size <= 4*pageKB(w, c) &&
		n != nil && n.Start == c.End && n.Anonymous() && n.Writable()
}

// followsGuard: the stack body right above a guard page.
func followsGuard(w window) bool {
	p, c := w.prev, w.cur
	if p == nil || p.End != c.Start || !c.Anonymous() || !c.Writable() {
		return false
	}
	return p.NoAccess() && p.Anonymous() && p.Size > 0 && p.Size <= 4*pageKB(w, p)
}

// isArena matches the rw-p/---p pair of a malloc arena from either side.
func isArena(w window) bool {
	c := w.cur
	if !c.Anonymous() || c.Label != "" {
		return false
	}
	if n := w.next; c.Writable() && n != nil && n.Start == c.End && n.NoAccess() && n.Anonymous() {
		return c.Size+n.Size == arenaKB
	}
	if p := w.prev; c.NoAccess() && p != nil && p.End == c.Start && p.Writable() && p.Anonymous() {
		return p.Size+c.Size == arenaKB
	}
	return false
}

// Annotate returns a copy of regions sorted by start address with Category
// set on each.
func Annotate(regions []Region) []Region {
	rs := slices.Clone(regions)
	slices.SortStableFunc(rs, func(a, b Region) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})
	page := systemPageKB()
	s := stageCode
	for i := range rs {
		w := window{cur: &rs[i], pageKB: page}
		if i > 0 {
			w.prev = &rs[i-1]
		}
		if i+1 < len(rs) {
			w.next = &rs[i+1]
		}
		rs[i].Category, s = step(s, w)
	}
	return rs
}

// ClassifyRegions sums resident kB per category. Every category is present,
// possibly zero.
func ClassifyRegions(regions []Region) map[Category]uint64 {
	out := make(map[Category]uint64, len(Categories))
	for _, c := range Categories {
		out[c] = 0
	}
	for _, r := range Annotate(regions) {
		out[r.Category] += r.RSS
	}
	return out
}

// Classify reads /proc/<pid>/smaps. The second result is false when the
// platform or the process offers no mapping table.
func Classify(pid int) (map[Category]uint64, bool) {
	if pid <= 0 {
		return nil, false
	}
	f, err := os.Open("/proc/" + strconv.Itoa(pid) + "/smaps")
	if err != nil {
		return nil, false
	}
	defer func() { _ = f.Close() }()
	return ClassifyRegions(Parse(f)), true
}
