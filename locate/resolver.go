// Package locate turns (location-area, cell-id) pairs into coordinates.
//
// Each distinct key is looked up at most once per run. Lookups run on a
// bounded pool behind a shared rate limiter; a key whose request keeps
// failing is recorded as failed and the rest of the run carries on.
package locate

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jalad-shrimali/cdr-trace/cdr"
)

// Cache is an optional store of previously resolved keys.
type Cache interface {
	Get(ctx context.Context, key cdr.Key) (cdr.Resolution, bool, error)
	Put(ctx context.Context, key cdr.Key, res cdr.Resolution) error
}

// Options tunes the resolver. Zero values fall back to conservative defaults.
type Options struct {
	Concurrency   int
	RatePerSecond float64 // 0 disables throttling
	Burst         int
	Timeout       time.Duration
	Retries       int
	Backoff       time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 2
	}
	if o.Burst <= 0 {
		o.Burst = 1
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.Backoff <= 0 {
		o.Backoff = 500 * time.Millisecond
	}
	return o
}

// Stats summarizes one Resolve call.
type Stats struct {
	Keys      int
	Requests  int64
	CacheHits int64
	Failed    int64
}

type Resolver struct {
	lookup  Lookuper
	cache   Cache
	opts    Options
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewResolver builds a resolver. cache may be nil.
func NewResolver(l Lookuper, cache Cache, opts Options) *Resolver {
	opts = opts.withDefaults()
	lim := rate.NewLimiter(rate.Inf, opts.Burst)
	if opts.RatePerSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst)
	}
	return &Resolver{lookup: l, cache: cache, opts: opts, limiter: lim, log: zap.L().Named("locate")}
}

// Keys returns the distinct keys of c in order of first appearance.
func Keys(c *cdr.Cleaned) []cdr.Key {
	seen := make(map[cdr.Key]struct{})
	var keys []cdr.Key
	for r := range c.Rows {
		k, ok := c.KeyOf(r)
		if !ok {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

// Resolve looks up every key once. The only error returned is the
// cancellation of ctx; per-key failures end up in the result map.
func (r *Resolver) Resolve(ctx context.Context, keys []cdr.Key) (map[cdr.Key]cdr.Resolution, Stats, error) {
	stats := Stats{Keys: len(keys)}
	out := make([]cdr.Resolution, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			res, err := r.resolveOne(gctx, key, &stats)
			if err != nil {
				return err
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stats, err
	}
	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}

	results := make(map[cdr.Key]cdr.Resolution, len(keys))
	for i, key := range keys {
		results[key] = out[i]
	}
	r.log.Info("keys resolved",
		zap.Int("keys", stats.Keys),
		zap.Int64("requests", stats.Requests),
		zap.Int64("cache_hits", stats.CacheHits),
		zap.Int64("failed", stats.Failed))
	return results, stats, nil
}

func (r *Resolver) resolveOne(ctx context.Context, key cdr.Key, stats *Stats) (cdr.Resolution, error) {
	log := r.log.With(zap.String("lac", key.LAC), zap.String("ci", key.CI))

	if r.cache != nil {
		res, ok, err := r.cache.Get(ctx, key)
		if err != nil {
			log.Warn("cache read failed", zap.Error(err))
		} else if ok {
			atomic.AddInt64(&stats.CacheHits, 1)
			return res, nil
		}
	}

	var res cdr.Resolution
	op := func() error {
		if err := r.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		atomic.AddInt64(&stats.Requests, 1)
		actx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
		got, err := r.lookup.Lookup(actx, key)
		if err != nil {
			return err
		}
		res = got
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.Backoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.opts.Retries)), ctx)

	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		log.Debug("lookup retry", zap.Error(err), zap.Duration("wait", wait))
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return cdr.Resolution{}, ctxErr
	}
	if err != nil {
		atomic.AddInt64(&stats.Failed, 1)
		log.Warn("lookup failed", zap.Error(err))
		return cdr.Resolution{Failed: true, Err: err.Error()}, nil
	}

	if r.cache != nil {
		if err := r.cache.Put(ctx, key, res); err != nil {
			log.Warn("cache write failed", zap.Error(err))
		}
	}
	return res, nil
}

// Merge left-joins results onto c. Rows without a key, or whose key has no
// result, get nil.
func Merge(c *cdr.Cleaned, results map[cdr.Key]cdr.Resolution) []*cdr.Resolution {
	out := make([]*cdr.Resolution, len(c.Rows))
	for r := range c.Rows {
		k, ok := c.KeyOf(r)
		if !ok {
			continue
		}
		if res, ok := results[k]; ok {
			out[r] = &res
		}
	}
	return out
}
