package document

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/yourusername/docforge/internal/jobs"
	"github.com/yourusername/docforge/internal/pagespec"
)

type splitOp struct {
	s    *Service
	src  sourceFile
	spec *pagespec.Spec
	raw  string
}

func (o *splitOp) kind() OperationType { return OperationSplit }

func (s *Service) prepareSplit(ctx context.Context, job *jobs.Job, rangesExpr string) (*splitOp, error) {
	rangesExpr = strings.TrimSpace(rangesExpr)
	spec, err := pagespec.ParseRanges(rangesExpr)
	if err != nil {
		return nil, parseError(err)
	}
	src, err := s.firstPDF(ctx, job)
	if err != nil {
		return nil, err
	}
	if err := validatePages(spec, src.pages); err != nil {
		return nil, err
	}
	return &splitOp{s: s, src: src, spec: spec, raw: rangesExpr}, nil
}

// execute はトークンごとに1ファイルを書き出します（"1-3,7" なら2ファイル）。
func (o *splitOp) execute(ctx context.Context, attempt *jobs.Attempt, progress ProgressReporter) ([]string, any, error) {
	segments := o.spec.Segments
	outputs := make([]string, 0, len(segments))
	parts := make([]SplitPart, 0, len(segments))

	for i, seg := range segments {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		name := fmt.Sprintf("split_%d_%d-%d.pdf", i+1, seg.Start, seg.End)
		out := filepath.Join(attempt.Dir, name)
		if err := o.s.engine.ExtractPages(ctx, o.src.path, out, seg.Pages()); err != nil {
			return nil, nil, newError(ErrOperation, "UNSUPPORTED_PDF", fmt.Sprintf("ページ範囲 %d の生成に失敗しました。", i+1), err)
		}
		size, err := fileSize(out)
		if err != nil {
			return nil, nil, err
		}

		outputs = append(outputs, out)
		parts = append(parts, SplitPart{
			Filename: name,
			FromPage: seg.Start,
			ToPage:   seg.End,
			Pages:    seg.Len(),
			Size:     size,
		})
		reportProgress(progress, "process", 20+(60*(i+1))/len(segments))
	}
	reportProgress(progress, "write", 90)

	return outputs, &SplitMeta{
		Original: o.src.meta(),
		Ranges:   o.raw,
		Parts:    parts,
	}, nil
}

// validatePages は実際のページ数に対する範囲外指定を ValidationError にします。
func validatePages(spec *pagespec.Spec, pageCount int) error {
	if err := spec.Validate(pageCount); err != nil {
		if errors.Is(err, pagespec.ErrPageOutOfRange) {
			return newError(ErrValidation, "PAGE_OUT_OF_RANGE",
				fmt.Sprintf("ページ %d は存在しません（全 %d ページ）。", spec.Max(), pageCount), err)
		}
		return newError(ErrValidation, "INVALID_INPUT", "ページ指定が正しくありません。", err)
	}
	return nil
}
