// Package streamwait consumes pull-based streams until an element of
// interest shows up or the stream ends.
package streamwait

import (
	"context"
	"errors"
	"io"
)

// Stream yields elements until it returns io.EOF. *livequery.Query is one.
type Stream[T any] interface {
	Next(ctx context.Context) (T, error)
}

// Func adapts a plain function to a Stream.
type Func[T any] func(ctx context.Context) (T, error)

func (f Func[T]) Next(ctx context.Context) (T, error) { return f(ctx) }

// Wait pulls from s until match reports true for an element, which is returned
// with ok set. If s ends first, Wait returns the zero value and ok false with
// a nil error. Any other error from s, including a ctx error, is returned
// as is.
func Wait[T any](ctx context.Context, s Stream[T], match func(T) bool) (v T, ok bool, err error) {
	for {
		v, err = s.Next(ctx)
		if errors.Is(err, io.EOF) {
			var zero T
			return zero, false, nil
		}
		if err != nil {
			var zero T
			return zero, false, err
		}
		if match(v) {
			return v, true, nil
		}
	}
}

// First returns the next element of s.
func First[T any](ctx context.Context, s Stream[T]) (T, bool, error) {
	return Wait(ctx, s, func(T) bool { return true })
}

// Take collects up to n elements. It returns fewer only when s ends.
func Take[T any](ctx context.Context, s Stream[T], n int) ([]T, error) {
	out := make([]T, 0, n)
	for len(out) < n {
		v, ok, err := First(ctx, s)
		if err != nil {
			return out, err
		}
		if !ok {
			break
		}
		out = append(out, v)
	}
	return out, nil
}
