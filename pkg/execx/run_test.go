package execx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunReportsExitCodes(t *testing.T) {
	res := Run(context.Background(), "sh", "-c", "exit 0")
	require.NoError(t, res.Err)
	assert.Equal(t, 0, res.Code)

	res = Run(context.Background(), "sh", "-c", "exit 7")
	require.Error(t, res.Err)
	assert.Equal(t, 7, res.Code)
}

func TestRunMissingExecutable(t *testing.T) {
	res := Run(context.Background(), "/does/not/exist")
	require.Error(t, res.Err)
	assert.Equal(t, 1, res.Code)
}

func TestRunTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := Run(ctx, "sleep", "5")
	require.Error(t, res.Err)
	assert.Equal(t, 124, res.Code)
}
