package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachFileCreatesTimestampedLog(t *testing.T) {
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	dir := t.TempDir()
	path, err := AttachFile(dir, "siren_extract")
	require.NoError(t, err)

	assert.FileExists(t, path)
	assert.Contains(t, filepath.Base(path), "_siren_extract.log")
}

func TestPruneOldLogs(t *testing.T) {
	dir := t.TempDir()

	old := filepath.Join(dir, "20200101_000000_stage.log")
	require.NoError(t, os.WriteFile(old, nil, 0o644))
	ancient := time.Now().Add(-10 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(old, ancient, ancient))

	fresh := filepath.Join(dir, "fresh_stage.log")
	require.NoError(t, os.WriteFile(fresh, nil, 0o644))

	other := filepath.Join(dir, "keep.txt")
	require.NoError(t, os.WriteFile(other, nil, 0o644))
	require.NoError(t, os.Chtimes(other, ancient, ancient))

	pruneOldLogs(dir, maxLogAge)

	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
	assert.FileExists(t, other, "only .log files are pruned")
}
