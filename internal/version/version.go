package version

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalid is returned (wrapped) by Parse for strings that are not product versions.
var ErrInvalid = errors.New("invalid version")

const maxParts = 4

// Version is an immutable product version: major.minor.patch.hotfix with an
// optional free-text suffix. Only the numeric components that were written are
// significant for containment queries (see In).
type Version struct {
	nums   [maxParts]int
	parts  int
	suffix string
}

// Parse accepts N, N.N, N.N.N, N.N.N.N, each optionally followed by -suffix.
func Parse(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, fmt.Errorf("%w: empty string", ErrInvalid)
	}
	numeric, suffix, _ := strings.Cut(s, "-")
	fields := strings.Split(numeric, ".")
	if len(fields) > maxParts {
		return Version{}, fmt.Errorf("%w: %q has more than %d components", ErrInvalid, s, maxParts)
	}
	var v Version
	for i, f := range fields {
		if f == "" || strings.TrimLeft(f, "0123456789") != "" {
			return Version{}, fmt.Errorf("%w: %q component %d is not numeric", ErrInvalid, s, i+1)
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			return Version{}, fmt.Errorf("%w: %q: %v", ErrInvalid, s, err)
		}
		v.nums[i] = n
	}
	v.parts = len(fields)
	v.suffix = suffix
	return v, nil
}

// MustParse is Parse for constants; it panics on error.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// New builds a fully specified version from numeric components.
func New(major, minor, patch, hotfix int) Version {
	return Version{nums: [maxParts]int{major, minor, patch, hotfix}, parts: maxParts}
}

func (v Version) Major() int     { return v.nums[0] }
func (v Version) Minor() int     { return v.nums[1] }
func (v Version) Patch() int     { return v.nums[2] }
func (v Version) Hotfix() int    { return v.nums[3] }
func (v Version) Suffix() string { return v.suffix }

// Parts reports how many numeric components were written.
func (v Version) Parts() int { return v.parts }

// IsZero reports whether v was never parsed.
func (v Version) IsZero() bool { return v.parts == 0 }

func (v Version) String() string {
	if v.parts == 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i < v.parts; i++ {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.Itoa(v.nums[i]))
	}
	if v.suffix != "" {
		b.WriteByte('-')
		b.WriteString(v.suffix)
	}
	return b.String()
}

// Compare orders versions lexicographically on the numeric components; missing
// components count as zero and the suffix is ignored.
func Compare(a, b Version) int {
	for i := 0; i < maxParts; i++ {
		switch {
		case a.nums[i] < b.nums[i]:
			return -1
		case a.nums[i] > b.nums[i]:
			return 1
		}
	}
	return 0
}

func (v Version) Less(o Version) bool    { return Compare(v, o) < 0 }
func (v Version) Equal(o Version) bool   { return Compare(v, o) == 0 }
func (v Version) AtLeast(o Version) bool { return Compare(v, o) >= 0 }

// Between reports lo <= v < hi.
func (v Version) Between(lo, hi Version) bool {
	return v.AtLeast(lo) && v.Less(hi)
}

// In reports whether v shares all specified leading components of any target.
// A target of 7 contains 7.23.1; a target of 7.23 contains 7.23.0.5. v must
// write at least as many components as the target, so 7 is not in 7.0.
func (v Version) In(targets ...Version) bool {
	for _, t := range targets {
		if t.parts == 0 || v.parts < t.parts {
			continue
		}
		match := true
		for i := 0; i < t.parts; i++ {
			if v.nums[i] != t.nums[i] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(b []byte) error {
	p, err := Parse(string(b))
	if err != nil {
		return err
	}
	*v = p
	return nil
}
