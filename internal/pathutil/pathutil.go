// Package pathutil holds URL path predicates shared by the dispatch table
// and the static file stage.
package pathutil

import "strings"

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// HasDotfile reports whether any segment names a hidden file or directory
// (".env", ".git/config"). Dot segments themselves do not count.
func HasDotfile(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if len(seg) > 1 && seg[0] == '.' && seg != ".." {
			return true
		}
	}
	return false
}

// HasSegmentPrefix reports whether p equals prefix or continues it with a
// "/": "/api/auth" and "/api/auth/login" match "/api/auth", "/api/authz"
// does not. A prefix ending in "/" matches plainly.
func HasSegmentPrefix(p, prefix string) bool {
	if !strings.HasPrefix(p, prefix) {
		return false
	}
	if len(p) == len(prefix) || strings.HasSuffix(prefix, "/") {
		return true
	}
	return p[len(prefix)] == '/'
}

// StripSegmentPrefix removes prefix from p and returns the remainder
// rooted at "/". ok is false when p does not match prefix.
func StripSegmentPrefix(p, prefix string) (rest string, ok bool) {
	if !HasSegmentPrefix(p, prefix) {
		return p, false
	}
	rest = strings.TrimPrefix(p, strings.TrimSuffix(prefix, "/"))
	if rest == "" || rest[0] != '/' {
		rest = "/" + rest
	}
	return rest, true
}
