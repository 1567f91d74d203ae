// Package prof pushes continuous profiles to Pyroscope.
package prof

import (
	"context"
	"runtime"
	"sync"

	"github.com/grafana/pyroscope-go"

	"github.com/keithlinneman/insightdash/internal/log"
	"github.com/keithlinneman/insightdash/internal/xerrors"
)

type Options struct {
	Enabled       bool
	AppName       string
	ServerAddress string
	TenantID      string
	Tags          map[string]string

	// MutexFraction and BlockRate enable the runtime profiles they name
	// when positive.
	MutexFraction int
	BlockRate     int
}

var profileTypes = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocObjects,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileInuseObjects,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileGoroutines,
	pyroscope.ProfileMutexCount,
	pyroscope.ProfileMutexDuration,
	pyroscope.ProfileBlockCount,
	pyroscope.ProfileBlockDuration,
}

// Start begins profiling and returns an idempotent stop. The returned stop
// is always callable, even with an error.
func Start(ctx context.Context, opts Options) (func(), error) {
	L := log.FromContext(ctx)
	noop := func() {}

	if !opts.Enabled {
		L.Debug(ctx, "pyroscope disabled")
		return noop, nil
	}
	if opts.ServerAddress == "" {
		return noop, xerrors.New("pyroscope: invalid server address (empty)")
	}

	if opts.MutexFraction > 0 {
		runtime.SetMutexProfileFraction(opts.MutexFraction)
	}
	if opts.BlockRate > 0 {
		runtime.SetBlockProfileRate(opts.BlockRate)
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: opts.AppName,
		ServerAddress:   opts.ServerAddress,
		TenantID:        opts.TenantID,
		Tags:            opts.Tags,
		ProfileTypes:    profileTypes,
	})
	if err != nil {
		return noop, xerrors.Wrapf(err, "pyroscope: start (server=%s)", opts.ServerAddress)
	}
	L.Info(ctx, "pyroscope started", "server_address", opts.ServerAddress, "app_name", opts.AppName)

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := profiler.Stop(); err != nil {
				L.Warn(context.Background(), "pyroscope stop", "error", err.Error())
			}
		})
	}, nil
}
