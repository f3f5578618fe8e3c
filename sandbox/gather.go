package sandbox

import (
	"sync"

	"go.starlark.net/starlark"

	"github.com/goplan/orchestrator/orcherr"
)

// defaultGatherConcurrency bounds the goroutine pool gather spawns when the
// Sandbox was not configured with an explicit limit.
const defaultGatherConcurrency = 8

// newGatherBuiltin binds "gather" into the fragment's global scope: it
// accepts zero-argument Starlark functions (typically each wrapping one
// tool call) and runs them concurrently, each on its own *starlark.Thread
// (a Thread is not safe for concurrent use), bounded by concurrency.
// Returns a list of results in call order; the first error encountered
// aborts the fragment.
func newGatherBuiltin(session *Session, concurrency int) *starlark.Builtin {
	if concurrency <= 0 {
		concurrency = defaultGatherConcurrency
	}
	return starlark.NewBuiltin("gather", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(kwargs) > 0 {
			return nil, orcherr.New(orcherr.ValidationError, "gather: keyword arguments are not supported")
		}
		fns := make([]*starlark.Function, len(args))
		for i, a := range args {
			fn, ok := a.(*starlark.Function)
			if !ok {
				return nil, orcherr.Newf(orcherr.ValidationError, "gather: argument %d is not a function", i)
			}
			if fn.NumParams() > 0 {
				return nil, orcherr.Newf(orcherr.ValidationError, "gather: argument %d must take no parameters", i)
			}
			fns[i] = fn
		}

		results := make([]starlark.Value, len(fns))
		errs := make([]error, len(fns))
		sem := make(chan struct{}, concurrency)
		var wg sync.WaitGroup

		for i, fn := range fns {
			i, fn := i, fn
			wg.Add(1)
			go func() {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				childThread := &starlark.Thread{Name: thread.Name + "/gather", Print: thread.Print}
				v, err := starlark.Call(childThread, fn, nil, nil)
				results[i] = v
				errs[i] = err
			}()
		}
		wg.Wait()

		for _, err := range errs {
			if err != nil {
				return nil, err
			}
		}
		return starlark.NewList(results), nil
	})
}
