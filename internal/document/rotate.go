package document

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/yourusername/docforge/internal/jobs"
	"github.com/yourusername/docforge/internal/pagespec"
)

const (
	rotatedFilename = "rotated.pdf"
	defaultDegrees  = 90
)

type rotateOp struct {
	s       *Service
	src     sourceFile
	degrees int
	pages   []int
}

func (o *rotateOp) kind() OperationType { return OperationRotate }

// prepareRotate は回転角と対象ページを検証します。回転角の省略は 90 度、pages が空か "all" なら全ページです。
func (s *Service) prepareRotate(ctx context.Context, job *jobs.Job, degrees int, pagesExpr string) (*rotateOp, error) {
	if degrees == 0 {
		degrees = defaultDegrees
	}
	switch degrees {
	case 90, 180, 270:
	default:
		return nil, validationError("INVALID_DEGREES", fmt.Sprintf("回転角は 90 / 180 / 270 のいずれかを指定してください (received: %d)", degrees))
	}

	var spec *pagespec.Spec
	pagesExpr = strings.TrimSpace(pagesExpr)
	if pagesExpr != "" && !strings.EqualFold(pagesExpr, "all") {
		parsed, err := pagespec.ParseRanges(pagesExpr)
		if err != nil {
			return nil, parseError(err)
		}
		spec = parsed
	}

	src, err := s.firstPDF(ctx, job)
	if err != nil {
		return nil, err
	}
	op := &rotateOp{s: s, src: src, degrees: degrees}
	if spec != nil {
		if err := validatePages(spec, src.pages); err != nil {
			return nil, err
		}
		op.pages = spec.Unique()
	}
	return op, nil
}

// execute は現在の回転に角度を加算します。90度を2回適用すると180度と同じ結果になります。
func (o *rotateOp) execute(ctx context.Context, attempt *jobs.Attempt, progress ProgressReporter) ([]string, any, error) {
	reportProgress(progress, "process", 40)
	out := filepath.Join(attempt.Dir, rotatedFilename)
	if err := o.s.engine.RotatePages(ctx, o.src.path, out, o.pages, o.degrees); err != nil {
		return nil, nil, newError(ErrOperation, "UNSUPPORTED_PDF", "PDFの回転に失敗しました。", err)
	}
	reportProgress(progress, "write", 80)

	return []string{out}, &RotateMeta{
		Original: o.src.meta(),
		Degrees:  o.degrees,
		Pages:    o.pages,
	}, nil
}
