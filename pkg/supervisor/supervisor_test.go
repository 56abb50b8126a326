package supervisor

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewWiresEveryDependency(t *testing.T) {
	sup, err := New(discardLogger())
	require.NoError(t, err)

	assert.NotNil(t, sup.Store)
	assert.NotNil(t, sup.Registry)
	assert.NotNil(t, sup.Hub)
	assert.NotNil(t, sup.Core)
	assert.NotNil(t, sup.Core.Store)
	assert.NotNil(t, sup.Core.Registry)
	assert.NotNil(t, sup.Core.Preloader)
	assert.NotNil(t, sup.Core.Ingestor)
}
