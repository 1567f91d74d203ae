package assets

import (
	"os"
	"time"

	"github.com/keithlinneman/insightdash/internal/xerrors"
)

// LoadDir returns a bundle rooted at dir. A missing entry document is not
// an error here; the SPA stage reports it per request.
func LoadDir(dir string) (*Bundle, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, xerrors.Wrapf(err, "stat public dir %s", dir)
	}
	if !info.IsDir() {
		return nil, xerrors.Newf("public dir %s is not a directory", dir)
	}
	return &Bundle{
		FS:       os.DirFS(dir),
		Source:   SourceDisk,
		LoadedAt: time.Now().UTC(),
	}, nil
}
