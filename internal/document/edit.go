package document

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/yourusername/docforge/internal/codec"
	"github.com/yourusername/docforge/internal/jobs"
)

// MaxEditContent は編集テキストの上限バイト数です。
const MaxEditContent = 1 << 20

type editOp struct {
	s       *Service
	to      codec.Format
	content string
}

func (o *editOp) kind() OperationType { return OperationEdit }

// prepareEdit はジョブの入力を使いません。テキストから docx または pdf を作ります。
func (s *Service) prepareEdit(target, content string) (*editOp, error) {
	to, _ := codec.ParseFormat(target)
	if to != codec.FormatDOCX && to != codec.FormatPDF {
		return nil, validationError("INVALID_TARGET", fmt.Sprintf("編集の出力形式には docx / pdf のいずれかを指定してください (received: %s)", target))
	}
	if strings.TrimSpace(content) == "" {
		return nil, validationError("EMPTY_CONTENT", "テキストを入力してください。")
	}
	if len(content) > MaxEditContent {
		return nil, validationError("LIMIT_EXCEEDED", fmt.Sprintf("テキストは %d KB 以下にしてください。", MaxEditContent>>10))
	}
	if !utf8.ValidString(content) {
		return nil, validationError("INVALID_INPUT", "テキストは UTF-8 で送信してください。")
	}
	if !s.converter.Supports(codec.FormatTXT, to) {
		return nil, newError(ErrUnsupportedConversion, "UNSUPPORTED_CONVERSION",
			fmt.Sprintf("テキストから %s への出力には対応していません。", to), codec.ErrUnsupportedConversion)
	}
	return &editOp{s: s, to: to, content: content}, nil
}

func (o *editOp) execute(ctx context.Context, attempt *jobs.Attempt, progress ProgressReporter) ([]string, any, error) {
	reportProgress(progress, "process", 20)

	src, err := os.CreateTemp("", "docforge-edit-*.txt")
	if err != nil {
		return nil, nil, err
	}
	defer os.Remove(src.Name())
	if _, err := src.WriteString(o.content); err != nil {
		src.Close()
		return nil, nil, err
	}
	if err := src.Close(); err != nil {
		return nil, nil, err
	}

	out := filepath.Join(attempt.Dir, "edited"+o.to.Ext())
	if err := o.s.converter.Convert(ctx, src.Name(), codec.FormatTXT, o.to, out); err != nil {
		if errors.Is(err, codec.ErrToolUnavailable) || errors.Is(err, context.Canceled) {
			return nil, nil, err
		}
		return nil, nil, newError(ErrOperation, "EDIT_FAILED", fmt.Sprintf("%s の作成に失敗しました。", o.to), err)
	}
	size, err := fileSize(out)
	if err != nil {
		return nil, nil, err
	}
	reportProgress(progress, "write", 90)

	text := strings.ReplaceAll(o.content, "\r\n", "\n")
	return []string{out}, &EditMeta{
		Target:     o.to,
		Lines:      strings.Count(text, "\n") + 1,
		Characters: utf8.RuneCountInString(text),
		OutputSize: size,
	}, nil
}

// Edit はテキストから docx または pdf を作成します。jobID が空なら新しいジョブを作ります。
// 既存ジョブでは前回の成果物を置き換えます。
func (s *Service) Edit(ctx context.Context, jobID, target, content string, progress ProgressReporter) (*jobs.Job, error) {
	if _, err := s.prepareEdit(target, content); err != nil {
		return nil, err
	}
	if jobID == "" {
		job, err := s.store.Create(ctx)
		if err != nil {
			return nil, storeError(err)
		}
		jobID = job.ID
	}
	return s.Run(ctx, jobID, Request{Operation: OperationEdit, Target: target, Content: content}, progress)
}
