package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/wrapl/minilang-sub003/compiler"
	"github.com/wrapl/minilang-sub003/pkg/bytecode"
	"github.com/wrapl/minilang-sub003/pkg/cache"
)

// ErrStopped is returned for requests submitted after Stop.
var ErrStopped = errors.New("worker stopped")

// request is a unit of work executed on the worker goroutine.
type request struct {
	fn   func(*compiler.Compiler) (any, error)
	done chan result
}

type result struct {
	value any
	err   error
}

// Worker runs compilations one at a time on a dedicated goroutine. The
// request queue is bounded, so a flood of editor or RPC requests blocks
// callers instead of growing without limit.
type Worker struct {
	compiler *compiler.Compiler
	cache    *cache.Cache
	salt     string
	requests chan request
	quit     chan struct{}
}

// NewWorker creates a Worker and starts the processing goroutine. A nil
// cache disables caching; salt distinguishes compiler configurations
// sharing one cache.
func NewWorker(c *compiler.Compiler, cc *cache.Cache, salt string, queue int) *Worker {
	if queue <= 0 {
		queue = 64
	}
	w := &Worker{
		compiler: c,
		cache:    cc,
		salt:     salt,
		requests: make(chan request, queue),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs fn, recovering from panics.
func (w *Worker) execute(fn func(*compiler.Compiler) (any, error)) (res result) {
	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("panic in worker: %v", r)
		}
	}()
	res.value, res.err = fn(w.compiler)
	return res
}

// Do submits fn for execution on the worker goroutine and waits for it.
func (w *Worker) Do(ctx context.Context, fn func(*compiler.Compiler) (any, error)) (any, error) {
	select {
	case <-w.quit:
		return nil, ErrStopped
	default:
	}
	req := request{fn: fn, done: make(chan result, 1)}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-req.done:
		return res.value, res.err
	case <-w.quit:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Compile compiles text, consulting the cache first. cached reports
// whether the function came from the cache.
func (w *Worker) Compile(ctx context.Context, source, text string) (fn *bytecode.Func, cached bool, err error) {
	key := cache.KeyOf(source, text, w.salt)
	if w.cache != nil {
		if fn, err := w.cache.Get(key); err == nil {
			return fn, true, nil
		} else if !errors.Is(err, cache.ErrNotFound) {
			log.Warningf("cache lookup for %s: %s", source, err)
		}
	}

	v, err := w.Do(ctx, func(c *compiler.Compiler) (any, error) {
		return c.CompileSource(ctx, source, text)
	})
	if err != nil {
		return nil, false, err
	}
	fn = v.(*bytecode.Func)

	if w.cache != nil {
		if err := w.cache.Put(key, fn); err != nil {
			log.Debugf("not caching %s: %s", source, err)
		}
	}
	return fn, false, nil
}

// Check parses and compiles text without touching the cache.
func (w *Worker) Check(ctx context.Context, source, text string) error {
	_, err := w.Do(ctx, func(c *compiler.Compiler) (any, error) {
		return c.CompileSource(ctx, source, text)
	})
	return err
}

// Compiler returns the underlying compiler for read-only access to its
// tables.
func (w *Worker) Compiler() *compiler.Compiler {
	return w.compiler
}

// Stop shuts down the worker goroutine.
func (w *Worker) Stop() {
	close(w.quit)
}
