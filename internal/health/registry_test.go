package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	down := errors.New("connection refused")

	r.Register("storage", CheckerFunc(func(ctx context.Context) error { return nil }))
	r.Register("redis", CheckerFunc(func(ctx context.Context) error { return down }))
	assert.Equal(t, []string{"redis", "storage"}, r.List())

	results := r.HealthCheckAll(context.Background())
	assert.NoError(t, results["storage"])
	assert.ErrorIs(t, results["redis"], down)

	r.Unregister("redis")
	assert.Equal(t, []string{"storage"}, r.List())
}
