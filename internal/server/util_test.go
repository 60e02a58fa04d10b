package server

import "testing"

func TestSanitizeBase(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{" api ", "/api"},
	}
	for _, c := range cases {
		if got := sanitizeBase(c.in); got != c.want {
			t.Fatalf("sanitizeBase(%q)=%q want %q", c.in, got, c.want)
		}
	}
}

func TestIsSafeName(t *testing.T) {
	valid := []string{"a", "A1._-", "FileSubscriber", "Core.Connector"}
	invalid := []string{"", "..", "a..b", "a/b", `a\b`, "hello*", "unicode한글", "a b"}
	for _, s := range valid {
		if !isSafeName(s) {
			t.Fatalf("expected valid name %q", s)
		}
	}
	for _, s := range invalid {
		if isSafeName(s) {
			t.Fatalf("expected invalid name %q", s)
		}
	}
}

func TestNormalizeLevel(t *testing.T) {
	if l, ok := normalizeLevel(" debug "); !ok || l != "DEBUG" {
		t.Fatalf("normalizeLevel(debug) = %q, %v", l, ok)
	}
	if _, ok := normalizeLevel("verbose"); ok {
		t.Fatal("verbose should be rejected")
	}
}

func FuzzIsSafeName(f *testing.F) {
	for _, s := range []string{"valid-name_123", "", "..", "../etc/passwd", "name\x00null", "unicode한글name"} {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, name string) {
		if !isSafeName(name) {
			return
		}
		for _, r := range name {
			if r == '/' || r == '\\' || r > 127 {
				t.Errorf("accepted unsafe name %q", name)
			}
		}
	})
}
