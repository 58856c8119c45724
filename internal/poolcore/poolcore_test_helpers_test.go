package poolcore

import (
	"context"
	"errors"
	"sync/atomic"
)

// stubModel is a LoadedModel whose behavior is controlled by the test:
// invoke optionally blocks on a channel and returns a caller-supplied error.
type stubModel struct {
	closed   atomic.Bool
	invokeFn func(ctx context.Context, payload any) (any, error)
}

func (m *stubModel) Invoke(ctx context.Context, payload any) (any, error) {
	if m.invokeFn != nil {
		return m.invokeFn(ctx, payload)
	}
	return payload, nil
}

func (m *stubModel) Close() { m.closed.Store(true) }

func okLoader(model *stubModel) Loader {
	return func() (LoadedModel, error) { return model, nil }
}

func failingLoader(err error) Loader {
	return func() (LoadedModel, error) { return nil, err }
}

var errLoadStub = errors.New("stub load failure")
