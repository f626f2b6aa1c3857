// Package watch processes CDR files dropped into an inbox directory.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/jalad-shrimali/cdr-trace/export"
	"github.com/jalad-shrimali/cdr-trace/loader"
	"github.com/jalad-shrimali/cdr-trace/pipeline"
)

// Runner is the part of the pipeline the watcher needs.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Response, error)
}

// Watcher monitors an inbox directory and writes results to an output
// directory. A file is picked up once it has been quiet for the settle delay.
type Watcher struct {
	dir    string
	out    string
	settle time.Duration
	runner Runner
	log    *zap.Logger

	// OnProcessed, if set, is called after every attempt.
	OnProcessed func(path string, err error)

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func New(dir, out string, settle time.Duration, r Runner) *Watcher {
	return &Watcher{
		dir:    dir,
		out:    out,
		settle: settle,
		runner: r,
		log:    zap.L().Named("watch"),
		timers: map[string]*time.Timer{},
	}
}

// wanted skips unsupported files and our own outputs.
func wanted(path string) bool {
	return loader.Kind(path) != loader.Unknown && !export.IsProcessed(path)
}

// Start begins watching. It returns once the directory is registered; the
// event loop stops when ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.dir); err != nil {
		fw.Close()
		return err
	}
	w.log.Info("watching inbox", zap.String("dir", w.dir), zap.Duration("settle", w.settle))

	go func() {
		defer fw.Close()
		for {
			select {
			case <-ctx.Done():
				w.stopTimers()
				return
			case evt, ok := <-fw.Events:
				if !ok {
					return
				}
				if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 && wanted(evt.Name) {
					w.schedule(ctx, evt.Name)
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.log.Warn("watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// schedule (re)arms the settle timer for path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.timers[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.process(ctx, path)
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

// Backfill processes inbox files that have no output yet.
func (w *Watcher) Backfill(ctx context.Context) error {
	entries, err := filepath.Glob(filepath.Join(w.dir, "*"))
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !wanted(e) {
			continue
		}
		if _, err := os.Stat(filepath.Join(w.out, export.ProcessedName(e))); err == nil {
			continue
		}
		w.process(ctx, e)
	}
	return nil
}

func (w *Watcher) process(ctx context.Context, path string) {
	err := w.run(ctx, path)
	if err != nil {
		w.log.Error("inbox file failed", zap.String("file", path), zap.Error(err))
	}
	if w.OnProcessed != nil {
		w.OnProcessed(path, err)
	}
}

func (w *Watcher) run(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	name := filepath.Base(path)
	resp, err := w.runner.Run(ctx, pipeline.Request{Name: name, Body: f})
	if err != nil {
		return err
	}
	if resp.Processed {
		w.log.Info("inbox file already processed", zap.String("file", name), zap.String("run_id", resp.RunID))
		return nil
	}
	csvPath, _, err := export.Save(w.out, name, resp.Final)
	if err != nil {
		return err
	}
	w.log.Info("inbox file processed",
		zap.String("file", name),
		zap.String("run_id", resp.RunID),
		zap.String("output", csvPath),
		zap.Int("rows", resp.Stats.Rows))
	return nil
}
