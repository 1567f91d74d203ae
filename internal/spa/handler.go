package spa

import (
	"bytes"
	"io"
	"io/fs"
	"net/http"

	"github.com/keithlinneman/insightdash/internal/log"
	"github.com/keithlinneman/insightdash/internal/xerrors"
)

type Handler struct {
	opts Options
}

func New(opts Options) (*Handler, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Handler{opts: opts}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		h.opts.NotFound.ServeHTTP(w, r)
		return
	}

	b, ok := h.opts.Bundle.Get()
	if !ok {
		h.entryFailed(w, r, xerrors.New("no client bundle loaded"))
		return
	}

	file, redirectTo, found := resolvePath(r.URL.Path, b.FS)
	if redirectTo != "" {
		if q := r.URL.RawQuery; q != "" {
			redirectTo += "?" + q
		}
		http.Redirect(w, r, redirectTo, http.StatusPermanentRedirect)
		return
	}
	if found {
		if err := h.serveFile(w, r, b.FS, file, cacheControlForFile(file, &h.opts)); err == nil {
			return
		}
		// file vanished between stat and open: fall through to the entry
	}

	if err := h.serveFile(w, r, b.FS, h.opts.EntryFile, h.opts.HTMLCacheControl); err != nil {
		h.entryFailed(w, r, err)
	}
}

// serveFile writes name from fsys. Nothing is written when it fails.
func (h *Handler) serveFile(w http.ResponseWriter, r *http.Request, fsys fs.FS, name, cacheControl string) error {
	f, err := fsys.Open(name)
	if err != nil {
		return xerrors.Wrapf(err, "open %s", name)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return xerrors.Wrapf(err, "stat %s", name)
	}
	if !info.Mode().IsRegular() {
		return xerrors.Newf("%s is not a regular file", name)
	}

	rs, ok := f.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(f)
		if err != nil {
			return xerrors.Wrapf(err, "read %s", name)
		}
		rs = bytes.NewReader(data)
	}

	if cacheControl != "" {
		w.Header().Set("Cache-Control", cacheControl)
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), rs)
	return nil
}

// entryFailed logs the cause and answers with a plain 500.
func (h *Handler) entryFailed(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	log.FromContextOr(ctx, h.opts.Logger).Error(ctx, err, "failed to serve spa entry document",
		"file", h.opts.EntryFile,
	)
	if h.opts.OnEntryError != nil {
		h.opts.OnEntryError(r, err)
	}
	hdr := w.Header()
	hdr.Del("Cache-Control")
	hdr.Set("Content-Type", "text/plain; charset=utf-8")
	hdr.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusInternalServerError)
	if r.Method != http.MethodHead {
		_, _ = io.WriteString(w, "Internal Server Error")
	}
}
