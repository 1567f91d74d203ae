package spa

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/keithlinneman/insightdash/internal/assets"
	"github.com/keithlinneman/insightdash/internal/log"
)

var ErrInvalidOptions = errors.New("spa: invalid options")

// BundleProvider returns the active client bundle.
type BundleProvider interface {
	Get() (*assets.Bundle, bool)
}

type Options struct {
	Logger log.Logger
	Bundle BundleProvider

	// EntryFile is served for every path without a static match.
	// Default: "index.html".
	EntryFile string

	// NotFound answers methods other than GET and HEAD.
	NotFound http.Handler

	// OnEntryError is called when the entry document cannot be served.
	OnEntryError func(r *http.Request, err error)

	// Cache policies applied by file extension.
	HTMLCacheControl  string // default: "no-cache"
	AssetCacheControl string // default: "public, max-age=31536000, immutable"
	OtherCacheControl string // default: "public, max-age=3600"
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.EntryFile == "" {
		o.EntryFile = assets.EntryFile
	}
	if o.NotFound == nil {
		o.NotFound = http.NotFoundHandler()
	}
	if o.HTMLCacheControl == "" {
		o.HTMLCacheControl = "no-cache"
	}
	if o.AssetCacheControl == "" {
		o.AssetCacheControl = "public, max-age=31536000, immutable"
	}
	if o.OtherCacheControl == "" {
		o.OtherCacheControl = "public, max-age=3600"
	}
}

func (o *Options) validate() error {
	if o.Bundle == nil {
		return fmt.Errorf("%w: Bundle is nil", ErrInvalidOptions)
	}
	return nil
}
