package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/docforge/internal/codec"
	"github.com/yourusername/docforge/internal/jobs"
	"github.com/yourusername/docforge/internal/metrics"
)

// operation は検証済みの操作です。execute は attempt.Dir 配下にのみ書き込みます。
type operation interface {
	kind() OperationType
	execute(ctx context.Context, attempt *jobs.Attempt, progress ProgressReporter) (outputs []string, meta any, err error)
}

// Plan は Prepare の結果です。同期実行かキュー投入かの判断に使います。
type Plan struct {
	JobID      string
	Operation  OperationType
	InputBytes int64
	InputPages int
}

// Prepare は要求を検証します。ジョブの状態は変更しません。
func (s *Service) Prepare(ctx context.Context, jobID string, req Request) (*Plan, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, storeError(err)
	}
	op, plan, err := s.prepare(ctx, job, req)
	if err != nil {
		return nil, err
	}
	plan.Operation = op.kind()
	return plan, nil
}

func (s *Service) prepare(ctx context.Context, job *jobs.Job, req Request) (operation, *Plan, error) {
	if len(job.InputFiles) == 0 && req.Operation != OperationEdit {
		return nil, nil, validationError("NO_INPUT", "ファイルがアップロードされていません。")
	}

	var (
		op     operation
		inputs []sourceFile
		err    error
	)
	switch req.Operation {
	case OperationMerge:
		var m *mergeOp
		m, err = s.prepareMerge(ctx, job)
		if m != nil {
			op, inputs = m, m.inputs
		}
	case OperationSplit:
		var sp *splitOp
		sp, err = s.prepareSplit(ctx, job, req.Ranges)
		if sp != nil {
			op, inputs = sp, []sourceFile{sp.src}
		}
	case OperationReorder:
		var r *reorderOp
		r, err = s.prepareReorder(ctx, job, req.Order)
		if r != nil {
			op, inputs = r, []sourceFile{r.src}
		}
	case OperationRotate:
		var r *rotateOp
		r, err = s.prepareRotate(ctx, job, req.Degrees, req.Pages)
		if r != nil {
			op, inputs = r, []sourceFile{r.src}
		}
	case OperationCompress:
		var c *compressOp
		c, err = s.prepareCompress(ctx, job, req.Preset)
		if c != nil {
			op, inputs = c, []sourceFile{c.src}
		}
	case OperationConvert:
		var c *convertOp
		c, err = s.prepareConvert(ctx, job, req.Target)
		if c != nil {
			op, inputs = c, []sourceFile{c.src}
		}
	case OperationEdit:
		var e *editOp
		e, err = s.prepareEdit(req.Target, req.Content)
		if e != nil {
			op = e
		}
	default:
		err = validationError("INVALID_OPERATION", fmt.Sprintf("未対応の操作です: %q", req.Operation))
	}
	if err != nil {
		return nil, nil, err
	}

	plan := &Plan{JobID: job.ID, InputBytes: int64(len(req.Content))}
	for _, in := range inputs {
		plan.InputBytes += in.size
		plan.InputPages += in.pages
	}
	return op, plan, nil
}

// MarkQueued はキューに投入した操作をジョブに記録します。
func (s *Service) MarkQueued(ctx context.Context, jobID string, op OperationType) error {
	return storeError(s.store.MarkQueued(ctx, jobID, string(op)))
}

// Run は操作を実行し、完了後のジョブを返します。
// 検証エラーではジョブを変更しません。Begin 以降に失敗した場合はジョブを FAILED にして OperationError を返します。
func (s *Service) Run(ctx context.Context, jobID string, req Request, progress ProgressReporter) (*jobs.Job, error) {
	release, err := s.store.Acquire(ctx, jobID)
	if err != nil {
		return nil, storeError(err)
	}
	defer release()

	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, storeError(err)
	}
	op, _, err := s.prepare(ctx, job, req)
	if err != nil {
		return nil, err
	}

	attempt, err := s.store.Begin(ctx, jobID, string(op.kind()))
	if err != nil {
		return nil, storeError(err)
	}

	// Begin 以降は呼び出し元が切断しても最後まで実行して結果を記録する
	recordCtx := context.WithoutCancel(ctx)
	logger := s.logger.With(zap.String("job_id", jobID), zap.String("operation", string(op.kind())), zap.Int("attempt", attempt.Seq))
	start := s.now()
	metrics.OperationsRunning.Inc()
	defer metrics.OperationsRunning.Dec()

	reporter := func(stage string, percent int) {
		if err := s.store.UpdateProgress(recordCtx, jobID, jobs.ProgressInfo{Percent: percent, Stage: stage}); err != nil {
			logger.Warn("failed to update progress", zap.Error(err))
		}
		reportProgress(progress, stage, percent)
	}
	reportProgress(progress, "load", 0)

	outputs, meta, execErr := op.execute(recordCtx, attempt, reporter)
	if execErr == nil && s.publisher != nil {
		execErr = s.publish(recordCtx, attempt, outputs)
	}
	if execErr == nil {
		execErr = s.store.Complete(recordCtx, jobID, outputs, meta)
	}

	elapsed := time.Since(start)
	metrics.OperationDuration.WithLabelValues(string(op.kind())).Observe(elapsed.Seconds())

	if execErr != nil {
		opErr := operationError(execErr)
		if failErr := s.store.Fail(recordCtx, jobID, jobs.ErrorInfo{Code: opErr.Code, Message: opErr.Message}); failErr != nil {
			logger.Error("failed to record failure", zap.Error(failErr))
		}
		metrics.OperationsTotal.WithLabelValues(string(op.kind()), "failed").Inc()
		logger.Warn("operation failed", zap.Duration("elapsed", elapsed), zap.Error(execErr))
		return nil, opErr
	}

	metrics.OperationsTotal.WithLabelValues(string(op.kind()), "done").Inc()
	logger.Info("operation completed", zap.Duration("elapsed", elapsed), zap.Int("outputs", len(outputs)))
	reportProgress(progress, "completed", 100)

	done, err := s.store.Get(recordCtx, jobID)
	if err != nil {
		return nil, storeError(err)
	}
	return done, nil
}

// operationError は実行中のエラーを OperationError に変換します。
func operationError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return newError(ErrOperation, apiErr.Code, apiErr.Message, err)
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newError(ErrOperation, "CANCELED", "処理が中断されました。", err)
	case errors.Is(err, codec.ErrToolUnavailable):
		return newError(ErrOperation, "TOOL_UNAVAILABLE", "変換に必要な外部ツールが利用できません。", err)
	}
	return newError(ErrOperation, "OPERATION_FAILED", fmt.Sprintf("処理に失敗しました: %v", err), err)
}

func (s *Service) publish(ctx context.Context, attempt *jobs.Attempt, outputs []string) error {
	for _, path := range outputs {
		contentType := "application/octet-stream"
		if format, err := s.detect(path); err == nil {
			contentType = format.MIME()
		}
		key, err := s.store.OutputKey(attempt.JobID, path)
		if err != nil {
			return err
		}
		if err := s.publisher.Upload(ctx, key, path, contentType); err != nil {
			return newError(ErrOperation, "STORAGE_ERROR", "成果物の保存に失敗しました。", err)
		}
	}
	return nil
}
