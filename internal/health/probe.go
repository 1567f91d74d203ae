package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/keithlinneman/insightdash/internal/xerrors"
)

// Probe returns nil when healthy, or the reason it is not.
type Probe interface{ Check(context.Context) error }

type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Fixed always passes, or always fails with reason.
func Fixed(ok bool, reason string) CheckFunc {
	if ok {
		return func(context.Context) error { return nil }
	}
	if reason == "" {
		reason = "unhealthy"
	}
	return func(context.Context) error { return xerrors.New(reason) }
}

// All passes when every probe passes and returns the first failure.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Ping fails when p cannot be reached within timeout. The reason is
// prefixed with name.
func Ping(name string, p Pinger, timeout time.Duration) CheckFunc {
	return func(ctx context.Context) error {
		if p == nil {
			return xerrors.Newf("%s: not connected", name)
		}
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		if err := p.PingContext(ctx); err != nil {
			return xerrors.Wrapf(err, "%s: ping", name)
		}
		return nil
	}
}

// ShutdownGate fails readiness once Set is called.
type ShutdownGate struct {
	draining atomic.Bool
	reason   atomic.Value
}

func (g *ShutdownGate) Set(reason string) {
	g.reason.Store(reason)
	g.draining.Store(true)
}

// Draining reports whether Set has been called.
func (g *ShutdownGate) Draining() bool { return g.draining.Load() }

func (g *ShutdownGate) Probe() CheckFunc {
	return func(context.Context) error {
		if !g.draining.Load() {
			return nil
		}
		r, _ := g.reason.Load().(string)
		if r == "" {
			r = "draining"
		}
		return xerrors.New(r)
	}
}
