package pathutil

import (
	"strings"
	"testing"
)

func TestHasDotSegments(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/normal/path", false},
		{"/path/./here", true},
		{"/path/../up", true},
		{"..", true},
		{"/...", false},
		{"/.hidden", false},
		{"/path/to/.", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := HasDotSegments(tt.path); got != tt.want {
				t.Errorf("HasDotSegments(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestHasDotfile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/index.html", false},
		{"/.env", true},
		{"/.git/config", true},
		{"/static/.well-known/x", true},
		{"/a/./b", false},
		{"/a/../b", false},
		{"/file.with.dots.js", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := HasDotfile(tt.path); got != tt.want {
				t.Errorf("HasDotfile(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestStripSegmentPrefix(t *testing.T) {
	tests := []struct {
		path, prefix string
		rest         string
		ok           bool
	}{
		{"/api/auth", "/api/auth", "/", true},
		{"/api/auth/", "/api/auth", "/", true},
		{"/api/auth/login", "/api/auth", "/login", true},
		{"/api/admin/users/1/role", "/api/admin", "/users/1/role", true},
		{"/api/authz", "/api/auth", "/api/authz", false},
		{"/api", "/api/auth", "/api", false},
		{"/dashboard", "/api/auth", "/dashboard", false},
		{"/api/x", "/api/", "/x", true},
	}
	for _, tt := range tests {
		t.Run(tt.path+"~"+tt.prefix, func(t *testing.T) {
			rest, ok := StripSegmentPrefix(tt.path, tt.prefix)
			if rest != tt.rest || ok != tt.ok {
				t.Errorf("StripSegmentPrefix(%q, %q) = (%q, %v), want (%q, %v)", tt.path, tt.prefix, rest, ok, tt.rest, tt.ok)
			}
		})
	}
}

func FuzzHasDotSegments(f *testing.F) {
	for _, s := range []string{"foo/./bar", "foo/../bar", "./foo", ".", "..", "foo/bar", "..."} {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, p string) {
		want := false
		for _, seg := range strings.Split(p, "/") {
			if seg == "." || seg == ".." {
				want = true
				break
			}
		}
		if got := HasDotSegments(p); got != want {
			t.Errorf("HasDotSegments(%q) = %v, want %v", p, got, want)
		}
	})
}

func FuzzStripSegmentPrefix(f *testing.F) {
	f.Add("/api/auth/login", "/api/auth")
	f.Add("/api/authz", "/api/auth")
	f.Add("/", "/api")
	f.Fuzz(func(t *testing.T, p, prefix string) {
		rest, ok := StripSegmentPrefix(p, prefix)
		if !ok {
			if rest != p {
				t.Fatalf("unmatched path changed: %q -> %q", p, rest)
			}
			return
		}
		if !strings.HasPrefix(rest, "/") {
			t.Fatalf("rest %q not rooted (path %q prefix %q)", rest, p, prefix)
		}
	})
}
