package vm

import (
	"context"

	"github.com/tliron/commonlog"

	"github.com/wrapl/minilang-sub003/pkg/runtime"
)

var log = commonlog.GetLogger("minilang.vm")

// Evaluator runs compile-time calls synchronously on the calling
// goroutine. It is safe for concurrent use: each call gets its own
// Interpreter.
type Evaluator struct {
	Methods *MethodTable
}

// NewEvaluator creates an evaluator with the default methods.
func NewEvaluator() *Evaluator {
	return &Evaluator{Methods: DefaultMethods()}
}

// Call implements runtime.Evaluator.
func (e *Evaluator) Call(ctx context.Context, fn runtime.Value, args []runtime.Value, k func(runtime.Value, error)) {
	k(e.Run(ctx, fn, args))
}

// Run calls fn with args and returns its result.
func (e *Evaluator) Run(ctx context.Context, fn runtime.Value, args []runtime.Value) (runtime.Value, error) {
	v, err := NewInterpreter(ctx, e.Methods).Call(fn, args)
	if err != nil {
		log.Debugf("call of %s failed: %s", runtime.Repr(fn), err)
		return nil, err
	}
	return v, nil
}

// AsyncEvaluator runs each call on a new goroutine and delivers the
// result from there, exercising the compiler's resumption path.
type AsyncEvaluator struct {
	*Evaluator
}

// Call implements runtime.Evaluator.
func (e AsyncEvaluator) Call(ctx context.Context, fn runtime.Value, args []runtime.Value, k func(runtime.Value, error)) {
	go func() {
		k(e.Run(ctx, fn, args))
	}()
}
