package engine

import "context"

// tryExecutorThenFallback runs the privileged server-side action and,
// on any failure, degrades to the fallback. The boolean reports which
// path produced the value. The same shape serves apply/rollback
// (fallback builds a manual payload) and the inspection reads
// (fallback introspects locally).
func tryExecutorThenFallback[T any](
	ctx context.Context,
	action func(context.Context) (T, error),
	fallback func(context.Context, error) (T, error),
) (T, bool, error) {
	out, err := action(ctx)
	if err == nil {
		return out, true, nil
	}
	out, err = fallback(ctx, err)
	return out, false, err
}
