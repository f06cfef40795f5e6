package fingerprint

import "log/slog"

// ComputeFunc derives a value from a file's bytes.
type ComputeFunc[T any] func(data []byte) (T, error)

// Guarded is a value computed from a file, tagged with the file's fingerprint.
// A zero Print means the input changed while the value was being computed and
// the value must not be trusted.
type Guarded[T any] struct {
	Path  string
	Print Fingerprint
	Value T
}

// Precompute runs compute over the file at path without any lock held.
// The file is fingerprinted before and after; if it changed in between the
// result is kept but marked untrusted.
func Precompute[T any](path string, compute ComputeFunc[T]) (Guarded[T], error) {
	before, data, err := read(path)
	if err != nil {
		return Guarded[T]{Path: path}, err
	}
	value, err := compute(data)
	if err != nil {
		return Guarded[T]{Path: path}, err
	}
	after, err := Of(path)
	if err != nil || !Matches(before, after) {
		return Guarded[T]{Path: path, Value: value}, nil
	}
	return Guarded[T]{Path: path, Print: before, Value: value}, nil
}

// Resolve returns the guarded value if the file still matches its
// fingerprint, and otherwise recomputes synchronously from the current bytes.
// The boolean reports whether a recompute happened.
func (g Guarded[T]) Resolve(compute ComputeFunc[T]) (T, bool, error) {
	current, data, err := read(g.Path)
	if err != nil {
		var zero T
		return zero, false, err
	}
	if !g.Print.IsZero() && Matches(g.Print, current) {
		return g.Value, false, nil
	}
	slog.Debug("precomputed value is stale, recomputing", "path", g.Path)
	value, err := compute(data)
	return value, true, err
}
