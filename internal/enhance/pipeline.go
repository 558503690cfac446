package enhance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"hush/internal/config"
	"hush/internal/fileutil"
	"hush/internal/history"
	"hush/internal/logging"
	"hush/internal/services"
	"hush/internal/staging"
	"hush/internal/toolrun"
)

// Recorder persists job lifecycle events. *history.Store satisfies it.
type Recorder interface {
	Begin(ctx context.Context, run history.Run) error
	Finish(ctx context.Context, run history.Run) error
}

// PreflightFunc verifies the environment can hold a job for an input of the
// given size.
type PreflightFunc func(cfg *config.Config, inputBytes int64) error

// Pipeline runs enhancement jobs.
type Pipeline struct {
	cfg       *config.Config
	runner    toolrun.Runner
	logger    *slog.Logger
	recorder  Recorder
	preflight PreflightFunc
	now       func() time.Time
	newID     func() string
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithRecorder records every job in the given history.
func WithRecorder(recorder Recorder) Option {
	return func(p *Pipeline) {
		p.recorder = recorder
	}
}

// WithPreflight runs check before each job is given a working directory.
func WithPreflight(check PreflightFunc) Option {
	return func(p *Pipeline) {
		p.preflight = check
	}
}

// New builds a pipeline. A nil logger discards output.
func New(cfg *config.Config, runner toolrun.Runner, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	p := &Pipeline{
		cfg:    cfg,
		runner: runner,
		logger: logging.NewComponentLogger(logger, "enhance"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Enhance runs one job and returns the delivered output path. Every failure
// is a *StageError; the input is untouched unless the job succeeds.
func (p *Pipeline) Enhance(ctx context.Context, inputPath string) (string, error) {
	jobID := p.newID()
	ctx = services.WithJobID(ctx, jobID)
	logger := logging.WithContext(ctx, p.logger)
	started := p.now()

	job := &Job{ID: jobID, InputPath: strings.TrimSpace(inputPath)}
	logger.Info("job started",
		logging.String(logging.FieldEventType, "job_start"),
		logging.String("input", job.InputPath),
	)

	var output string
	err := p.validate(job)
	run := history.Run{JobID: jobID, InputPath: job.InputPath, InputBytes: job.InputBytes, StartedAt: started}
	p.recordBegin(ctx, logger, run)
	if err == nil {
		output, err = p.execute(ctx, logger, job)
	}

	run.MediaKind = string(job.Kind)
	run.Segments = job.Segments
	run.AppliedGain = job.AppliedGain
	run.FinishedAt = p.now()
	if err != nil {
		var stageErr *StageError
		if !errors.As(err, &stageErr) {
			stageErr = newStageError("unknown", err)
			err = stageErr
		}
		details := services.Details(stageErr.Err)
		run.Status = history.StatusFailed
		run.FailedStage = stageErr.Stage
		run.ErrorKind = string(stageErr.Kind)
		run.ErrorMessage = details.Message
		p.recordFinish(ctx, logger, run)
		logging.ErrorWithContext(logger, "job failed", "job_failure",
			logging.String(logging.FieldStage, stageErr.Stage),
			logging.String(logging.FieldErrorKind, string(stageErr.Kind)),
			logging.String(logging.FieldErrorHint, details.Hint),
			logging.Duration("job_duration", run.Duration()),
			logging.Error(stageErr.Err),
		)
		return "", err
	}

	run.Status = history.StatusSucceeded
	run.OutputPath = output
	if info, statErr := os.Stat(output); statErr == nil {
		run.OutputBytes = info.Size()
	}
	p.recordFinish(ctx, logger, run)
	logger.Info("job complete",
		logging.String(logging.FieldEventType, "job_complete"),
		logging.String("output", output),
		logging.String("media_kind", string(job.Kind)),
		logging.Int("segments", job.Segments),
		logging.Float64("applied_gain", job.AppliedGain),
		logging.Int64("output_bytes", run.OutputBytes),
		logging.Duration("job_duration", run.Duration()),
	)
	return output, nil
}

func (p *Pipeline) validate(job *Job) error {
	fail := func(message string, err error) error {
		return newStageError(StageValidate,
			services.Wrap(services.ErrValidation, StageValidate, "input", message, err))
	}
	if job.InputPath == "" {
		return fail("input path is empty", nil)
	}
	abs, err := filepath.Abs(job.InputPath)
	if err != nil {
		return fail("resolve path", err)
	}
	job.InputPath = abs
	job.Ext = filepath.Ext(abs)
	if !Supported(abs) {
		return fail(fmt.Sprintf("unsupported extension %q (accepted: %s)",
			job.Ext, strings.Join(SupportedExtensions(), " ")), nil)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fail("stat input", err)
	}
	if !info.Mode().IsRegular() {
		return fail("input is not a regular file", nil)
	}
	job.InputBytes = info.Size()
	return nil
}

// execute holds the lock and working directory for the life of the job and
// guarantees both are released.
func (p *Pipeline) execute(ctx context.Context, logger *slog.Logger, job *Job) (string, error) {
	if p.preflight != nil {
		if err := p.preflight(p.cfg, job.InputBytes); err != nil {
			return "", newStageError(StagePreflight, err)
		}
	}

	lock, err := acquireInputLock(p.cfg.Paths.StagingDir, job.InputPath)
	if err != nil {
		return "", newStageError(StageLock, err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Debug("input lock release failed", logging.Error(err))
		}
	}()

	workDir, err := staging.CreateJobDir(p.cfg.Paths.StagingDir, job.ID)
	if err != nil {
		return "", newStageError(StagePreflight,
			services.Wrap(services.ErrConfiguration, StagePreflight, "create working directory", "", err))
	}
	job.WorkDir = workDir
	job.Manifest = &Manifest{}
	defer p.release(logger, job)

	return p.runStages(ctx, job)
}

func (p *Pipeline) runStages(ctx context.Context, job *Job) (string, error) {
	var (
		stream   AudioStream
		segments []Segment
		output   string
	)
	filteredDir := job.WorkDir.Join("filtered")

	steps := []struct {
		stage string
		fn    func(context.Context) error
	}{
		{StageProbe, func(ctx context.Context) error {
			info, err := p.Probe(ctx, job.InputPath)
			if err != nil {
				return err
			}
			job.Kind = info.Kind()
			job.SampleRate = info.SampleRate
			job.Duration = info.Duration
			return nil
		}},
		{StageCanonicalize, func(ctx context.Context) (err error) {
			stream, err = p.Canonicalize(ctx, job)
			return err
		}},
		{StageSegment, func(ctx context.Context) (err error) {
			segments, err = p.Segment(ctx, job, stream, p.cfg.Pipeline.SegmentSeconds)
			job.Segments = len(segments)
			return err
		}},
		{StageFilter, func(ctx context.Context) (err error) {
			_, err = p.FilterAll(ctx, job, segments, filteredDir)
			return err
		}},
		{StageCombine, func(ctx context.Context) (err error) {
			stream, err = p.Combine(ctx, job, filteredDir)
			return err
		}},
		{StageNormalize, func(ctx context.Context) (err error) {
			stream, err = p.Normalize(ctx, job, stream, p.cfg.Pipeline.Gain)
			return err
		}},
		{StageRemux, func(ctx context.Context) (err error) {
			output, err = p.Remux(ctx, job, stream)
			return err
		}},
		{StageMetadata, func(ctx context.Context) (err error) {
			output, err = p.RestoreMetadata(ctx, job, job.InputPath, output)
			return err
		}},
		{StageFinalize, func(ctx context.Context) (err error) {
			output, err = p.finalize(ctx, job, output)
			return err
		}},
	}
	for _, step := range steps {
		if err := p.runStage(ctx, step.stage, step.fn); err != nil {
			return "", err
		}
	}
	return output, nil
}

// runStage executes fn with stage context and start/complete/failure logging.
func (p *Pipeline) runStage(ctx context.Context, stage string, fn func(context.Context) error) error {
	stageCtx := services.WithStage(ctx, stage)
	logger := logging.WithContext(stageCtx, p.logger)
	if err := ctx.Err(); err != nil {
		return newStageError(stage, err)
	}

	logger.Info("stage started", logging.String(logging.FieldEventType, "stage_start"))
	started := time.Now()
	err := fn(stageCtx)
	elapsed := time.Since(started)
	if err != nil {
		stageErr := newStageError(stage, err)
		details := services.Details(err)
		logger.Error("stage failed",
			logging.String(logging.FieldEventType, "stage_failure"),
			logging.String(logging.FieldErrorKind, string(stageErr.Kind)),
			logging.String(logging.FieldErrorHint, details.Hint),
			logging.Duration("stage_duration", elapsed),
			logging.Error(err),
		)
		return stageErr
	}
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("stage_duration", elapsed),
	)
	return nil
}

// finalize moves output over the input, or beside it in sibling mode.
func (p *Pipeline) finalize(_ context.Context, job *Job, output string) (string, error) {
	dest := job.InputPath
	if p.cfg.Output.Mode == config.OutputModeSibling {
		dest = SiblingPath(job.InputPath)
	}
	if err := fileutil.PlaceAtomic(output, dest); err != nil {
		return "", services.Wrap(services.ErrTransient, StageFinalize, "place output", dest, err)
	}
	return dest, nil
}

func (p *Pipeline) release(logger *slog.Logger, job *Job) {
	if err := job.Manifest.Release(); err != nil {
		logging.WarnWithContext(logger, "artifact cleanup incomplete", "artifact_cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "leftover files in staging; run 'hush staging clean'"),
		)
	}
	if err := job.WorkDir.Release(); err != nil {
		logging.WarnWithContext(logger, "working directory cleanup failed", "workdir_cleanup_failed",
			logging.String("path", job.WorkDir.Path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "leftover files in staging; run 'hush staging clean'"),
		)
	}
}

func (p *Pipeline) recordBegin(ctx context.Context, logger *slog.Logger, run history.Run) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.Begin(context.WithoutCancel(ctx), run); err != nil {
		logging.WarnWithContext(logger, "history write failed", "history_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "job will be missing from 'hush history'"),
		)
	}
}

func (p *Pipeline) recordFinish(ctx context.Context, logger *slog.Logger, run history.Run) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.Finish(context.WithoutCancel(ctx), run); err != nil {
		logging.WarnWithContext(logger, "history write failed", "history_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "job status in 'hush history' is stale"),
		)
	}
}

func (p *Pipeline) toolTimeout() time.Duration {
	return time.Duration(p.cfg.Tools.TimeoutSeconds) * time.Second
}

func (p *Pipeline) log(ctx context.Context) *slog.Logger {
	return logging.WithContext(ctx, p.logger)
}
