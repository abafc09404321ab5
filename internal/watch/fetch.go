package watch

import (
	"context"
	"time"

	logx "matchwatch/pkg/logx"
)

const (
	defaultFetchRetries = 3
	defaultFetchBackoff = 2 * time.Second
)

// fetchWithRetry runs fn up to retries times with linearly increasing
// backoff (base * attempt). It returns (zero, false) once retries are
// exhausted; failure is a signal for the controller, never an error
// that propagates. A successful call returning no data is still
// ok=true: "upstream has nothing" and "fetch failed" are different
// answers.
func fetchWithRetry[T any](ctx context.Context, log logx.Logger, retries int, base time.Duration, fn func(ctx context.Context) (T, error)) (T, bool) {
	var zero T
	if retries <= 0 {
		retries = defaultFetchRetries
	}
	if base <= 0 {
		base = defaultFetchBackoff
	}

	for attempt := 1; attempt <= retries; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, true
		}
		if attempt == retries {
			log.Error("fetch failed, retries exhausted",
				logx.Int("attempt", attempt), logx.Int("max", retries), logx.Err(err))
			return zero, false
		}
		wait := base * time.Duration(attempt)
		log.Warn("fetch failed, retrying",
			logx.Int("attempt", attempt), logx.Int("max", retries),
			logx.Duration("wait", wait), logx.Err(err))
		select {
		case <-ctx.Done():
			return zero, false
		case <-time.After(wait):
		}
	}
	return zero, false
}

// fetchMatches pulls the match list for one event. ok=false sets the
// tick's fetch-error flag upstream of this call.
func (w *Watcher) fetchMatches(ctx context.Context, eventID string) ([]Match, bool) {
	opts := w.options()
	return fetchWithRetry(ctx, w.log, opts.FetchRetries, opts.FetchBackoff,
		func(ctx context.Context) ([]Match, error) {
			return w.source.FetchMatches(ctx, eventID)
		})
}

func (w *Watcher) fetchResults(ctx context.Context, eventID string) ([]Result, bool) {
	opts := w.options()
	return fetchWithRetry(ctx, w.log, opts.FetchRetries, opts.FetchBackoff,
		func(ctx context.Context) ([]Result, error) {
			return w.source.FetchResults(ctx, eventID)
		})
}
