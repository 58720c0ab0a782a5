package snsctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerbose(t *testing.T) {
	ctx := context.Background()
	assert.False(t, IsVerbose(ctx))
	assert.True(t, IsVerbose(SetVerbose(ctx, true)))
	assert.False(t, IsVerbose(SetVerbose(SetVerbose(ctx, true), false)))
}

func TestBusID(t *testing.T) {
	ctx := context.Background()
	_, ok := BusID(ctx)
	assert.False(t, ok)

	ctx = SetBusID(SetVerbose(ctx, true), 2)
	id, ok := BusID(ctx)
	assert.True(t, ok)
	assert.Equal(t, 2, id)
	assert.True(t, IsVerbose(ctx))
}
