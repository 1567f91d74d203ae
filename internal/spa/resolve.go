package spa

import (
	"io/fs"
	"path"
	"strings"

	"github.com/keithlinneman/insightdash/internal/pathutil"
)

// resolvePath maps a URL path to a file in fsys.
//
// Returns the file to serve, or a canonical URL to redirect to when the
// path names a directory with an index and lacks the trailing slash.
// found is false when no static file matches; the caller then serves the
// entry document.
func resolvePath(urlPath string, fsys fs.FS) (file, redirectTo string, found bool) {
	p := urlPath
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if strings.ContainsAny(p, "\x00\\") || pathutil.HasDotSegments(p) || pathutil.HasDotfile(p) {
		return "", "", false
	}

	trailing := strings.HasSuffix(p, "/")
	clean := strings.TrimPrefix(path.Clean(p), "/")
	if clean == "" {
		return "", "", false
	}

	if trailing {
		name := clean + "/index.html"
		if existsFile(fsys, name) {
			return name, "", true
		}
		return "", "", false
	}

	if existsFile(fsys, clean) {
		return clean, "", true
	}

	if path.Ext(clean) == "" && existsFile(fsys, clean+"/index.html") {
		return "", "/" + clean + "/", true
	}
	return "", "", false
}

func existsFile(fsys fs.FS, name string) bool {
	if name == "" || !fs.ValidPath(name) {
		return false
	}
	info, err := fs.Stat(fsys, name)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
