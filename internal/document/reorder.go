package document

import (
	"context"
	"path/filepath"

	"github.com/yourusername/docforge/internal/jobs"
	"github.com/yourusername/docforge/internal/pagespec"
)

const reorderedFilename = "reordered.pdf"

type reorderOp struct {
	s    *Service
	src  sourceFile
	spec *pagespec.Spec
}

func (o *reorderOp) kind() OperationType { return OperationReorder }

func (s *Service) prepareReorder(ctx context.Context, job *jobs.Job, orderExpr string) (*reorderOp, error) {
	spec, err := pagespec.ParseOrder(orderExpr)
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
	return &reorderOp{s: s, src: src, spec: spec}, nil
}

// execute は順序どおりにページを並べます。省略したページは含まれず、重複指定は複製されます。
func (o *reorderOp) execute(ctx context.Context, attempt *jobs.Attempt, progress ProgressReporter) ([]string, any, error) {
	order := o.spec.Pages()

	reportProgress(progress, "process", 40)
	out := filepath.Join(attempt.Dir, reorderedFilename)
	if err := o.s.engine.ExtractPages(ctx, o.src.path, out, order); err != nil {
		return nil, nil, newError(ErrOperation, "UNSUPPORTED_PDF", "PDFのページ入替に失敗しました。ファイルが破損していないか確認してください。", err)
	}
	reportProgress(progress, "write", 80)

	return []string{out}, &ReorderMeta{
		Original: o.src.meta(),
		Order:    order,
		Pages:    len(order),
	}, nil
}
