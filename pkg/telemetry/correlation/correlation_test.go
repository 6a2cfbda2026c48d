package correlation

import (
	"context"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureCorrelationIDGeneratesOnce(t *testing.T) {
	ctx, cid := EnsureCorrelationID(context.Background())
	require.NotEmpty(t, cid)
	_, err := ulid.Parse(cid)
	require.NoError(t, err)

	_, again := EnsureCorrelationID(ctx)
	assert.Equal(t, cid, again)
}

func TestContextWithCorrelationIDIgnoresEmpty(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "")
	assert.Empty(t, ExtractCorrelationID(ctx))

	ctx = ContextWithCorrelationID(ctx, "cid-1")
	assert.Equal(t, "cid-1", ExtractCorrelationID(ctx))
	assert.Empty(t, ExtractCorrelationID(nil))
}
