package assets

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"testing/fstest"
)

func TestManager_Empty(t *testing.T) {
	m := NewManager()
	if _, ok := m.Get(); ok {
		t.Fatal("empty manager reported a bundle")
	}
	if m.ReadyErr() == nil {
		t.Fatal("ReadyErr should fail with no bundle")
	}
	if m.Source() != SourceUnknown || m.SHA256() != "" {
		t.Fatalf("source=%q sha=%q", m.Source(), m.SHA256())
	}
}

func TestManager_SetGet(t *testing.T) {
	m := NewManager()
	m.Set(Bundle{FS: fstest.MapFS{}, SHA256: "abc", Source: SourceS3})
	b, ok := m.Get()
	if !ok {
		t.Fatal("expected bundle")
	}
	if b.LoadedAt.IsZero() {
		t.Error("LoadedAt not defaulted")
	}
	if m.SHA256() != "abc" || m.Source() != SourceS3 || m.ReadyErr() != nil {
		t.Fatalf("sha=%q source=%q ready=%v", m.SHA256(), m.Source(), m.ReadyErr())
	}
}

func TestManager_NilFSNotReady(t *testing.T) {
	m := NewManager()
	m.Set(Bundle{SHA256: "abc"})
	if _, ok := m.Get(); ok {
		t.Fatal("bundle without FS must not be active")
	}
}

func TestManager_ConcurrentSwap(t *testing.T) {
	m := NewManager()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.Set(Bundle{FS: fstest.MapFS{}})
		}()
		go func() {
			defer wg.Done()
			_, _ = m.Get()
		}()
	}
	wg.Wait()
	if _, ok := m.Get(); !ok {
		t.Fatal("expected bundle after swaps")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		b       *Bundle
		wantErr bool
	}{
		{"nil", nil, true},
		{"no fs", &Bundle{}, true},
		{"missing entry", &Bundle{FS: fstest.MapFS{"app.js": {Data: []byte("1")}}}, true},
		{"empty entry", &Bundle{FS: fstest.MapFS{"index.html": {Data: nil}}}, true},
		{"entry is dir", &Bundle{FS: fstest.MapFS{"index.html/x": {Data: []byte("1")}}}, true},
		{"ok", &Bundle{FS: fstest.MapFS{"index.html": {Data: []byte("<html>")}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Validate(tt.b); (err != nil) != tt.wantErr {
				t.Fatalf("Validate = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	b, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if b.Source != SourceDisk {
		t.Errorf("source = %q", b.Source)
	}
	if err := Validate(b); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadDir_Errors(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{filepath.Join(dir, "missing"), file} {
		if _, err := LoadDir(p); err == nil {
			t.Errorf("LoadDir(%s) expected error", p)
		}
	}
}
