package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func readReportFiles(t *testing.T, dir string) ([]RunRecord, error) {
	t.Helper()

	matches, err := filepath.Glob(filepath.Join(dir, "*_run_*.json"))
	require.NoError(t, err)

	var records []RunRecord
	for _, match := range matches {
		data, err := os.ReadFile(match)
		if err != nil {
			return nil, err
		}
		var record RunRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func TestReportSkippedWithoutDirectory(t *testing.T) {
	runner := &Runner{}
	require.NoError(t, runner.writeReport(&RunResult{RunID: "x"}, time.Now(), nil))
}
