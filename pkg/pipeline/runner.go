package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/afterdata/bodacc/pkg/execx"
)

// ExecFunc spawns one stage invocation and reports its exit code. The error
// is non-nil only when the process could not be run at all. The default
// implementation runs a child process inheriting stdout/stderr.
type ExecFunc func(ctx context.Context, inv Invocation) (int, error)

// Runner executes a pipeline's stages strictly in order, one child process
// at a time, aborting on the first non-zero exit.
type Runner struct {
	// ConfigPath, when set, is forwarded to every stage as --config.
	ConfigPath string
	// ReportDir, when set, receives a JSON run report.
	ReportDir string
	// Exec overrides process spawning, mainly for tests.
	Exec ExecFunc
}

// StageResult records one completed stage invocation.
type StageResult struct {
	Name     string
	ExitCode int
	Duration time.Duration
}

// RunResult captures a whole pipeline run.
type RunResult struct {
	RunID    string
	Pipeline string
	Stages   []StageResult
}

// StageError reports the first failing stage. The runner stops at it; later
// stages are never invoked and no cleanup of earlier outputs is attempted.
type StageError struct {
	Stage    string
	ExitCode int
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s exited with status %d", e.Stage, e.ExitCode)
}

// Run executes the pipeline. It returns the run result together with a
// *StageError when a stage failed; results for the stages that did run are
// still reported in that case.
func (r *Runner) Run(ctx context.Context, p *Pipeline) (*RunResult, error) {
	ordered, err := p.ExecutionOrder()
	if err != nil {
		return nil, err
	}

	execFn := r.Exec
	if execFn == nil {
		execFn = runChild
	}

	result := &RunResult{
		RunID:    uuid.NewString(),
		Pipeline: p.Name,
	}

	started := time.Now()
	var failure error

	for _, stage := range ordered {
		inv := stage.Invocation(r.ConfigPath)
		log.WithFields(log.Fields{"run": result.RunID, "stage": stage.Name}).Info("starting stage")

		stageStart := time.Now()
		code, execErr := execFn(ctx, inv)
		elapsed := time.Since(stageStart)

		result.Stages = append(result.Stages, StageResult{
			Name:     stage.Name,
			ExitCode: code,
			Duration: elapsed,
		})

		if execErr != nil {
			// The process could not be started at all.
			failure = errors.Wrapf(execErr, "stage %s", stage.Name)
			log.WithField("stage", stage.Name).Error(failure)
			break
		}
		if code != 0 {
			failure = &StageError{Stage: stage.Name, ExitCode: code}
			log.WithFields(log.Fields{"stage": stage.Name, "exit_code": code}).Error("stage failed, aborting pipeline")
			break
		}

		log.WithFields(log.Fields{"stage": stage.Name, "duration": elapsed.Round(time.Millisecond)}).Info("stage complete")
	}

	if reportErr := r.writeReport(result, started, failure); reportErr != nil {
		log.WithError(reportErr).Warn("could not write run report")
	}

	return result, failure
}

func runChild(ctx context.Context, inv Invocation) (int, error) {
	res := execx.Run(ctx, inv.Argv[0], inv.Argv[1:]...)
	if res.Err != nil {
		var exitErr *exec.ExitError
		if !stderrors.As(res.Err, &exitErr) {
			return 0, res.Err
		}
	}
	return res.Code, nil
}
