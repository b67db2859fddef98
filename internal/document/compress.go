package document

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/yourusername/docforge/internal/codec"
	"github.com/yourusername/docforge/internal/jobs"
)

type compressOp struct {
	s      *Service
	src    sourceFile
	preset codec.Preset
}

func (o *compressOp) kind() OperationType { return OperationCompress }

func (s *Service) prepareCompress(ctx context.Context, job *jobs.Job, presetName string) (*compressOp, error) {
	preset, ok := codec.ParsePreset(presetName)
	if !ok {
		return nil, validationError("INVALID_PRESET", fmt.Sprintf("presetには high / medium / low のいずれかを指定してください (received: %s)", presetName))
	}
	src, err := s.firstPDF(ctx, job)
	if err != nil {
		return nil, err
	}
	return &compressOp{s: s, src: src, preset: preset}, nil
}

// execute は圧縮後にページ数が変わっていないことを確認します。
func (o *compressOp) execute(ctx context.Context, attempt *jobs.Attempt, progress ProgressReporter) ([]string, any, error) {
	reportProgress(progress, "process", 30)

	out := filepath.Join(attempt.Dir, fmt.Sprintf("compressed_%s.pdf", o.preset))
	if err := o.s.optimizer.Optimize(ctx, o.src.path, out, o.preset); err != nil {
		return nil, nil, newError(ErrOperation, "COMPRESS_FAILED", "PDFの圧縮に失敗しました。", err)
	}
	reportProgress(progress, "verify", 70)

	pages, err := o.s.engine.PageCount(ctx, out)
	if err != nil {
		return nil, nil, newError(ErrOperation, "COMPRESS_FAILED", "圧縮後のPDFを読み込めませんでした。", err)
	}
	if pages != o.src.pages {
		return nil, nil, newError(ErrOperation, "COMPRESS_FAILED",
			fmt.Sprintf("圧縮後のページ数が一致しません（%d → %d）。", o.src.pages, pages), nil)
	}

	size, err := fileSize(out)
	if err != nil {
		return nil, nil, err
	}
	reportProgress(progress, "write", 90)

	return []string{out}, &CompressMeta{
		OriginalSize: o.src.size,
		OutputSize:   size,
		SavedBytes:   o.src.size - size,
		SavedPercent: computeSavedPercent(o.src.size, size),
		Preset:       o.preset,
		Original:     o.src.meta(),
	}, nil
}

func computeSavedPercent(before, after int64) float64 {
	if before == 0 {
		return 0
	}
	return float64(before-after) / float64(before) * 100
}
