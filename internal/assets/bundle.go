package assets

import (
	"io/fs"
	"sync/atomic"
	"time"

	"github.com/keithlinneman/insightdash/internal/xerrors"
)

// EntryFile is the SPA entry document every bundle must carry.
const EntryFile = "index.html"

type Source string

const (
	SourceUnknown Source = "unknown"
	SourceDisk    Source = "disk"
	SourceS3      Source = "s3"
)

type Bundle struct {
	FS       fs.FS
	SHA256   string
	Source   Source
	LoadedAt time.Time
}

// Manager holds the active bundle.
type Manager struct {
	active atomic.Pointer[Bundle]
}

func NewManager() *Manager { return &Manager{} }

// Set replaces the active bundle. LoadedAt defaults to now.
func (m *Manager) Set(b Bundle) {
	cp := new(Bundle)
	*cp = b
	if cp.LoadedAt.IsZero() {
		cp.LoadedAt = time.Now().UTC()
	}
	m.active.Store(cp)
}

// Get returns the active bundle and whether one with a filesystem is set.
func (m *Manager) Get() (*Bundle, bool) {
	b := m.active.Load()
	return b, b != nil && b.FS != nil
}

// SHA256 returns the active bundle hash, empty for disk bundles or when
// nothing is loaded.
func (m *Manager) SHA256() string {
	if b := m.active.Load(); b != nil {
		return b.SHA256
	}
	return ""
}

// Source returns where the active bundle came from.
func (m *Manager) Source() Source {
	if b := m.active.Load(); b != nil {
		return b.Source
	}
	return SourceUnknown
}

// ReadyErr fails when no bundle is active.
func (m *Manager) ReadyErr() error {
	if _, ok := m.Get(); !ok {
		return xerrors.New("assets: no active bundle")
	}
	return nil
}

// Validate checks that b can serve the SPA: the entry document must be a
// regular, non-empty file.
func Validate(b *Bundle) error {
	if b == nil || b.FS == nil {
		return xerrors.New("assets: bundle has no filesystem")
	}
	info, err := fs.Stat(b.FS, EntryFile)
	if err != nil {
		return xerrors.Wrapf(err, "assets: stat %s", EntryFile)
	}
	if info.IsDir() {
		return xerrors.Newf("assets: %s is a directory", EntryFile)
	}
	if info.Size() == 0 {
		return xerrors.Newf("assets: %s is empty", EntryFile)
	}
	return nil
}
