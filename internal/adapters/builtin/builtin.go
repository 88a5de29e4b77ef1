// Package builtin provides the "test" adapter, a set of trivial operations
// for smoke tests, demos and orchestration examples.
package builtin

import (
	"context"
	"errors"
	"time"
	"venue/internal/engine"
)

// Name is the adapter name.
const Name = "test"

// NewTestAdapter returns the test adapter:
//
//	echo   returns the input (a non-object input comes back as {"message": input})
//	error  fails with input.message, or "error"
//	delay  sleeps input.millis, then echoes
//	never  runs until cancelled
func NewTestAdapter(concurrency int64) *engine.FuncAdapter {
	return engine.NewFuncAdapter(Name, concurrency, map[string]engine.Operation{
		"echo":  {Handler: echo, Sync: true},
		"error": {Handler: fail},
		"delay": {Handler: delay},
		"never": {Handler: never},
	})
}

func echo(_ context.Context, _ engine.Metadata, input any) (any, error) {
	if m, ok := input.(map[string]any); ok {
		return m, nil
	}
	return map[string]any{"message": input}, nil
}

func fail(_ context.Context, _ engine.Metadata, input any) (any, error) {
	if m, ok := input.(map[string]any); ok {
		if msg, ok := m["message"].(string); ok && msg != "" {
			return nil, errors.New(msg)
		}
	}
	return nil, errors.New("error")
}

func delay(ctx context.Context, meta engine.Metadata, input any) (any, error) {
	var millis float64
	if m, ok := input.(map[string]any); ok {
		switch v := m["millis"].(type) {
		case float64:
			millis = v
		case int:
			millis = float64(v)
		}
	}
	timer := time.NewTimer(time.Duration(millis * float64(time.Millisecond)))
	defer timer.Stop()
	select {
	case <-timer.C:
		return echo(ctx, meta, input)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func never(ctx context.Context, _ engine.Metadata, _ any) (any, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
