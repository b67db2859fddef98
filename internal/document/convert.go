package document

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/yourusername/docforge/internal/codec"
	"github.com/yourusername/docforge/internal/jobs"
)

// convertTargets は変換先として指定できる形式です。
var convertTargets = map[codec.Format]struct{}{
	codec.FormatPDF:  {},
	codec.FormatDOCX: {},
	codec.FormatXLSX: {},
	codec.FormatPNG:  {},
	codec.FormatJPG:  {},
}

type convertOp struct {
	s    *Service
	src  sourceFile
	from codec.Format
	to   codec.Format
}

func (o *convertOp) kind() OperationType { return OperationConvert }

// prepareConvert は最初の入力ファイルだけを対象にします。
func (s *Service) prepareConvert(ctx context.Context, job *jobs.Job, target string) (*convertOp, error) {
	to, ok := codec.ParseFormat(target)
	if _, allowed := convertTargets[to]; !ok || !allowed {
		return nil, validationError("INVALID_TARGET", fmt.Sprintf("変換先には pdf / docx / xlsx / png / jpg のいずれかを指定してください (received: %s)", target))
	}

	src, _, err := s.inspectInput(ctx, job.InputFiles[0])
	if err != nil {
		return nil, err
	}
	if src.format == "" || !s.converter.Supports(src.format, to) {
		from := src.format
		if from == "" {
			from = "unknown"
		}
		return nil, newError(ErrUnsupportedConversion, "UNSUPPORTED_CONVERSION",
			fmt.Sprintf("%s から %s への変換には対応していません。", from, to), codec.ErrUnsupportedConversion)
	}
	return &convertOp{s: s, src: src, from: src.format, to: to}, nil
}

func (o *convertOp) execute(ctx context.Context, attempt *jobs.Attempt, progress ProgressReporter) ([]string, any, error) {
	reportProgress(progress, "process", 20)

	out := filepath.Join(attempt.Dir, "converted"+o.to.Ext())
	if err := o.s.converter.Convert(ctx, o.src.path, o.from, o.to, out); err != nil {
		if errors.Is(err, codec.ErrToolUnavailable) || errors.Is(err, context.Canceled) {
			return nil, nil, err
		}
		return nil, nil, newError(ErrOperation, "CONVERT_FAILED", fmt.Sprintf("%s から %s への変換に失敗しました。", o.from, o.to), err)
	}
	size, err := fileSize(out)
	if err != nil {
		return nil, nil, err
	}
	reportProgress(progress, "write", 90)

	return []string{out}, &ConvertMeta{
		Original:   o.src.meta(),
		From:       o.from,
		To:         o.to,
		OutputSize: size,
	}, nil
}
