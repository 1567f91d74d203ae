package assets

import (
	"context"
	"fmt"
	"time"

	"github.com/keithlinneman/insightdash/internal/log"
)

const (
	DefaultPollInterval = 30 * time.Second

	// maxBackoff caps exponential backoff after consecutive SSM failures.
	maxBackoff = 5 * time.Minute
)

type pollResult int

const (
	pollNoChange pollResult = iota
	pollSwapped
	pollSSMError
	pollLoadError
	pollValidationError
)

// Fetcher is what the Watcher needs from a Loader.
type Fetcher interface {
	CurrentHash(ctx context.Context) (string, error)
	LoadHash(ctx context.Context, hash string) (*Bundle, error)
}

// WatcherMetrics is implemented by *metrics.ServerMetrics.
type WatcherMetrics interface {
	IncWatcherPolls()
	IncWatcherSwaps()
	IncWatcherError(stage string)
	SetWatcherStale(stale bool)
	ObserveBundleLoad(d time.Duration)
	SetBundle(sha256 string, loadedAt time.Time)
}

type WatcherOptions struct {
	Logger       log.Logger
	Fetcher      Fetcher
	Manager      *Manager
	PollInterval time.Duration
	Metrics      WatcherMetrics

	// StaleThreshold is how long SSM may fail before the content is
	// reported stale. Defaults to 30m.
	StaleThreshold time.Duration
}

// Watcher polls SSM for a new bundle hash and swaps the release into the
// Manager once it downloads and validates.
type Watcher struct {
	fetcher  Fetcher
	manager  *Manager
	logger   log.Logger
	interval time.Duration
	metrics  WatcherMetrics
	now      func() time.Time

	currentHash     string
	consecutiveErrs int

	staleThreshold time.Duration
	lastSuccessAt  time.Time
	stale          bool

	polls int64
	swaps int64
}

func NewWatcher(opts WatcherOptions) *Watcher {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.StaleThreshold <= 0 {
		opts.StaleThreshold = 30 * time.Minute
	}
	return &Watcher{
		fetcher:        opts.Fetcher,
		manager:        opts.Manager,
		logger:         opts.Logger,
		interval:       opts.PollInterval,
		metrics:        opts.Metrics,
		now:            time.Now,
		currentHash:    opts.Manager.SHA256(),
		staleThreshold: opts.StaleThreshold,
		lastSuccessAt:  time.Now(),
	}
}

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info(ctx, "bundle watcher starting",
		"poll_interval", w.interval.String(),
		"current_hash", truncHash(w.currentHash),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "bundle watcher stopping", "polls", w.polls, "swaps", w.swaps)
			return ctx.Err()
		case <-ticker.C:
			result := w.checkOnce(ctx)
			switch {
			case result == pollSSMError:
				w.consecutiveErrs++
				backoff := w.backoffDuration()
				w.logger.Warn(ctx, "bundle watcher backing off",
					"consecutive_errors", w.consecutiveErrs,
					"next_poll_in", backoff.String(),
				)
				ticker.Reset(backoff)
			case w.consecutiveErrs > 0:
				w.logger.Info(ctx, "bundle watcher recovered", "had_consecutive_errors", w.consecutiveErrs)
				w.consecutiveErrs = 0
				ticker.Reset(w.interval)
			}
			w.updateStale(ctx, result)
		}
	}
}

func (w *Watcher) updateStale(ctx context.Context, result pollResult) {
	if result != pollSSMError {
		if w.stale {
			w.stale = false
			w.logger.Info(ctx, "bundle watcher no longer stale")
			w.setStale(false)
		}
		return
	}
	since := w.now().Sub(w.lastSuccessAt)
	if since > w.staleThreshold && !w.stale {
		w.stale = true
		w.logger.Error(ctx, fmt.Errorf("last successful SSM poll was %s ago", since.Truncate(time.Second)),
			"bundle watcher stale, cannot confirm the served release is current")
		w.setStale(true)
	}
}

func (w *Watcher) setStale(stale bool) {
	if w.metrics != nil {
		w.metrics.SetWatcherStale(stale)
	}
}

func (w *Watcher) checkOnce(ctx context.Context) pollResult {
	w.polls++
	if w.metrics != nil {
		w.metrics.IncWatcherPolls()
	}

	hash, err := w.fetcher.CurrentHash(ctx)
	if err != nil {
		w.logger.Error(ctx, err, "bundle watcher: SSM poll failed")
		w.incError("ssm")
		return pollSSMError
	}
	w.lastSuccessAt = w.now()

	if hashEqual(hash, w.currentHash) {
		return pollNoChange
	}

	w.logger.Info(ctx, "bundle watcher: new release detected",
		"old_hash", truncHash(w.currentHash),
		"new_hash", truncHash(hash),
	)

	start := w.now()
	b, err := w.fetcher.LoadHash(ctx, hash)
	if w.metrics != nil {
		w.metrics.ObserveBundleLoad(w.now().Sub(start))
	}
	if err != nil {
		w.logger.Error(ctx, err, "bundle watcher: load failed", "hash", truncHash(hash))
		w.incError("load")
		return pollLoadError
	}

	if err := Validate(b); err != nil {
		w.logger.Error(ctx, err, "bundle watcher: release rejected, keeping current bundle",
			"rejected_hash", truncHash(hash),
			"current_hash", truncHash(w.currentHash),
		)
		w.incError("validation")
		return pollValidationError
	}

	w.manager.Set(*b)
	old := w.currentHash
	w.currentHash = hash
	w.swaps++
	if w.metrics != nil {
		w.metrics.IncWatcherSwaps()
		w.metrics.SetBundle(hash, b.LoadedAt)
	}
	w.logger.Info(ctx, "bundle watcher: release swapped",
		"old_hash", truncHash(old),
		"new_hash", truncHash(hash),
		"total_swaps", w.swaps,
	)
	return pollSwapped
}

func (w *Watcher) incError(stage string) {
	if w.metrics != nil {
		w.metrics.IncWatcherError(stage)
	}
}

// backoffDuration doubles the interval per consecutive error, capped at
// maxBackoff.
func (w *Watcher) backoffDuration() time.Duration {
	d := w.interval
	for i := 0; i < w.consecutiveErrs; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
