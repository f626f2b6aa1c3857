// Package pipeline runs one file through load → clean → resolve →
// finalize, or reloads it when it is already processed.
package pipeline

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jalad-shrimali/cdr-trace/cdr"
	"github.com/jalad-shrimali/cdr-trace/clean"
	"github.com/jalad-shrimali/cdr-trace/export"
	"github.com/jalad-shrimali/cdr-trace/finalize"
	"github.com/jalad-shrimali/cdr-trace/loader"
	"github.com/jalad-shrimali/cdr-trace/locate"
)

// Request is one file to process.
type Request struct {
	Name string
	Body io.Reader
}

// Phase records how long one stage took.
type Phase struct {
	Name       string `json:"name"`
	DurationMS int64  `json:"duration_ms"`
}

// Stats is the per-run audit trail.
type Stats struct {
	Rows       int              `json:"rows"`
	Columns    []string         `json:"columns"`
	MissingLAC int              `json:"missing_location_area"`
	MissingCI  int              `json:"missing_cell_id"`
	Keys       int              `json:"keys"`
	Requests   int64            `json:"requests"`
	CacheHits  int64            `json:"cache_hits"`
	FailedKeys int64            `json:"failed_keys"`
	Summary    finalize.Summary `json:"summary"`
	Phases     []Phase          `json:"phases"`
	DurationMS int64            `json:"duration_ms"`
}

// Response is the outcome of one Run.
type Response struct {
	RunID     string
	Name      string
	Processed bool // input was already processed; nothing was resolved
	Final     *cdr.Final
	Stats     Stats
}

// Pipeline holds the collaborators shared across runs. Runs do not share
// any other state.
type Pipeline struct {
	resolver *locate.Resolver
}

func New(r *locate.Resolver) *Pipeline { return &Pipeline{resolver: r} }

// IsInputError reports whether err is caused by the input file and should
// be shown to the caller as such.
func IsInputError(err error) bool {
	for _, target := range []error{
		loader.ErrUnsupported,
		loader.ErrMalformed,
		clean.ErrMissingColumn,
		finalize.ErrTimestamp,
		export.ErrBadCategory,
	} {
		if eris.Is(err, target) {
			return true
		}
	}
	return false
}

// Run processes req. Input errors abort the run; lookup failures do not.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Response, error) {
	resp := &Response{RunID: uuid.NewString(), Name: req.Name}
	log := zap.L().Named("pipeline").With(zap.String("run_id", resp.RunID), zap.String("file", req.Name))
	start := time.Now()

	phase := func(name string, fn func() error) error {
		t := time.Now()
		err := fn()
		d := time.Since(t).Milliseconds()
		resp.Stats.Phases = append(resp.Stats.Phases, Phase{Name: name, DurationMS: d})
		if err != nil {
			log.Error("phase failed", zap.String("phase", name), zap.Int64("duration_ms", d), zap.Error(err))
			return err
		}
		log.Debug("phase complete", zap.String("phase", name), zap.Int64("duration_ms", d))
		return nil
	}

	if export.IsProcessed(req.Name) && loader.Kind(req.Name) == loader.Delimited {
		resp.Processed = true
		err := phase("reload", func() (err error) {
			resp.Final, err = export.ReadProcessed(req.Body)
			return err
		})
		if err != nil {
			return nil, eris.Wrapf(err, "reload %s", req.Name)
		}
		resp.Stats.Rows = len(resp.Final.Rows)
		resp.Stats.Columns = resp.Final.Columns
		resp.Stats.DurationMS = time.Since(start).Milliseconds()
		log.Info("processed file reloaded", zap.Int("rows", resp.Stats.Rows))
		return resp, nil
	}

	var (
		table   *cdr.Table
		cleaned *cdr.Cleaned
		merged  []*cdr.Resolution
	)
	if err := phase("load", func() (err error) {
		table, err = loader.Load(req.Body, req.Name)
		return err
	}); err != nil {
		return nil, err
	}

	if err := phase("clean", func() (err error) {
		if cleaned, err = clean.Normalize(table); err != nil {
			return err
		}
		counts := clean.ApplyMissing(cleaned)
		resp.Stats.MissingLAC, resp.Stats.MissingCI = counts.LocationArea, counts.CellID
		return nil
	}); err != nil {
		return nil, err
	}
	resp.Stats.Rows = len(cleaned.Rows)
	resp.Stats.Columns = cleaned.Columns

	if err := phase("resolve", func() error {
		keys := locate.Keys(cleaned)
		results, st, err := p.resolver.Resolve(ctx, keys)
		if err != nil {
			return eris.Wrap(err, "resolve")
		}
		resp.Stats.Keys = st.Keys
		resp.Stats.Requests, resp.Stats.CacheHits, resp.Stats.FailedKeys = st.Requests, st.CacheHits, st.Failed
		merged = locate.Merge(cleaned, results)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := phase("finalize", func() (err error) {
		resp.Final, resp.Stats.Summary, err = finalize.Finalize(cleaned, merged)
		return err
	}); err != nil {
		return nil, err
	}

	resp.Stats.DurationMS = time.Since(start).Milliseconds()
	log.Info("run complete",
		zap.Int("rows", resp.Stats.Rows),
		zap.Int("keys", resp.Stats.Keys),
		zap.Int64("requests", resp.Stats.Requests),
		zap.Int64("failed_keys", resp.Stats.FailedKeys),
		zap.Int64("duration_ms", resp.Stats.DurationMS))
	return resp, nil
}
