package requestctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetCallerID_and_CallerID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, CallerID(ctx))

	ctx2 := SetCallerID(ctx, "key:1a2b3c4d")
	assert.Equal(t, "key:1a2b3c4d", CallerID(ctx2))
	assert.Empty(t, CallerID(ctx))

	ctx3 := SetCallerID(ctx2, "ip:10.0.0.1")
	assert.Equal(t, "ip:10.0.0.1", CallerID(ctx3))
	assert.Equal(t, "key:1a2b3c4d", CallerID(ctx2))
}
