package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// RunRecord is the on-disk form of a pipeline run report.
type RunRecord struct {
	ID        string        `json:"id"`
	Pipeline  string        `json:"pipeline"`
	Timestamp time.Time     `json:"timestamp"`
	Status    string        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Stages    []StageRecord `json:"stages"`
}

// StageRecord captures one stage of a run report.
type StageRecord struct {
	Name           string `json:"name"`
	ExitCode       int    `json:"exit_code"`
	DurationMillis int64  `json:"duration_ms"`
}

func (r *Runner) writeReport(result *RunResult, started time.Time, failure error) error {
	if r.ReportDir == "" {
		return nil
	}

	record := RunRecord{
		ID:        result.RunID,
		Pipeline:  result.Pipeline,
		Timestamp: started.UTC(),
		Status:    "succeeded",
	}
	if failure != nil {
		record.Status = "failed"
		record.Error = failure.Error()
	}
	for _, sr := range result.Stages {
		record.Stages = append(record.Stages, StageRecord{
			Name:           sr.Name,
			ExitCode:       sr.ExitCode,
			DurationMillis: sr.Duration.Milliseconds(),
		})
	}

	if err := os.MkdirAll(r.ReportDir, 0o755); err != nil {
		return errors.Wrap(err, "create report directory")
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal run report")
	}

	path := filepath.Join(r.ReportDir, started.Format("20060102_150405")+"_run_"+result.RunID+".json")
	return errors.Wrap(os.WriteFile(path, data, 0o644), "write run report")
}
