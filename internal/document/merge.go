package document

import (
	"context"
	"path/filepath"

	"github.com/yourusername/docforge/internal/codec"
	"github.com/yourusername/docforge/internal/jobs"
)

const mergedFilename = "merged.pdf"

type mergeOp struct {
	s       *Service
	inputs  []sourceFile
	skipped []SkippedInput
}

func (m *mergeOp) kind() OperationType { return OperationMerge }

// prepareMerge はアップロード順にPDF入力を集めます。PDF以外と読めないPDFは除外してメタデータに残します。
func (s *Service) prepareMerge(ctx context.Context, job *jobs.Job) (*mergeOp, error) {
	op := &mergeOp{s: s}
	for _, path := range job.InputFiles {
		file, unreadable, err := s.inspectInput(ctx, path)
		if err != nil {
			return nil, err
		}
		switch {
		case file.format != codec.FormatPDF:
			op.skipped = append(op.skipped, SkippedInput{Name: file.name, Reason: "PDFではありません"})
		case unreadable != nil:
			op.skipped = append(op.skipped, SkippedInput{Name: file.name, Reason: "PDFを読み込めません"})
		default:
			op.inputs = append(op.inputs, file)
		}
	}
	if len(op.inputs) == 0 {
		return nil, validationError("NO_VALID_PDF", "結合できるPDFがありません。")
	}
	return op, nil
}

func (m *mergeOp) execute(ctx context.Context, attempt *jobs.Attempt, progress ProgressReporter) ([]string, any, error) {
	paths := make([]string, len(m.inputs))
	sources := make([]SourceFileMeta, len(m.inputs))
	total := 0
	for i, in := range m.inputs {
		paths[i] = in.path
		sources[i] = in.meta()
		total += in.pages
	}

	reportProgress(progress, "process", 20)
	out := filepath.Join(attempt.Dir, mergedFilename)
	if err := m.s.engine.Merge(ctx, paths, out); err != nil {
		return nil, nil, newError(ErrOperation, "UNSUPPORTED_PDF", "PDFの結合に失敗しました。", err)
	}
	reportProgress(progress, "write", 80)

	return []string{out}, &MergeMeta{
		TotalPages: total,
		Sources:    sources,
		Skipped:    m.skipped,
	}, nil
}
