package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/yourusername/docforge/internal/codec"
	"github.com/yourusername/docforge/internal/metrics"
)

// allowedUploadFormats はアップロードを受け付ける形式です。
var allowedUploadFormats = map[codec.Format]struct{}{
	codec.FormatPDF:  {},
	codec.FormatDOCX: {},
	codec.FormatXLSX: {},
	codec.FormatPPTX: {},
	codec.FormatTXT:  {},
	codec.FormatCSV:  {},
	codec.FormatPNG:  {},
	codec.FormatJPG:  {},
	codec.FormatBMP:  {},
	codec.FormatTIFF: {},
	codec.FormatGIF:  {},
	codec.FormatWEBP: {},
}

// Payload はアップロードされた1ファイルです。
type Payload struct {
	Name string
	Body io.Reader
}

// UploadedFile は保存されたファイルの情報です。
type UploadedFile struct {
	Name         string       `json:"name"`
	OriginalName string       `json:"originalName"`
	Format       codec.Format `json:"format"`
	Size         int64        `json:"size"`
	Pages        int          `json:"pages,omitempty"`
	// Unreadable はPDFとして検証できなかったことを示します。結合では除外されます。
	Unreadable bool `json:"unreadable,omitempty"`
}

// UploadResult はアップロード結果です。
type UploadResult struct {
	JobID string         `json:"jobId"`
	Files []UploadedFile `json:"files"`
}

// Upload は新しいジョブを作成し、payloads を受け取った順に保存します。
// いずれかのファイルが検証に失敗した場合はジョブごと破棄します。
func (s *Service) Upload(ctx context.Context, payloads []Payload) (_ *UploadResult, err error) {
	if len(payloads) == 0 {
		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		return nil, validationError("INVALID_INPUT", "アップロードするファイルを選択してください。")
	}
	if len(payloads) > s.maxFiles {
		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		return nil, validationError("LIMIT_EXCEEDED", fmt.Sprintf("一度にアップロードできるファイルは %d 件までです。", s.maxFiles))
	}

	job, err := s.store.Create(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err == nil {
			return
		}
		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		if delErr := s.store.Delete(context.WithoutCancel(ctx), job.ID); delErr != nil {
			s.logger.Warn("failed to discard job", zap.String("job_id", job.ID), zap.Error(delErr))
		}
	}()

	result := &UploadResult{JobID: job.ID, Files: make([]UploadedFile, 0, len(payloads))}
	var total int64
	for i, p := range payloads {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		file, err := s.storePayload(ctx, job.ID, p, i)
		if err != nil {
			return nil, err
		}
		total += file.Size
		result.Files = append(result.Files, *file)
	}

	metrics.UploadsTotal.WithLabelValues("accepted").Inc()
	metrics.UploadBytes.Add(float64(total))
	s.logger.Info("upload accepted", zap.String("job_id", job.ID), zap.Int("files", len(result.Files)), zap.Int64("bytes", total))
	return result, nil
}

func (s *Service) storePayload(ctx context.Context, jobID string, p Payload, index int) (*UploadedFile, error) {
	if p.Body == nil {
		return nil, validationError("INVALID_INPUT", fmt.Sprintf("%d 番目のファイルが空です。", index+1))
	}
	path, err := s.store.AddInput(ctx, jobID, p.Name)
	if err != nil {
		return nil, storeError(err)
	}

	size, err := writeLimited(path, p.Body, s.maxFileSize)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, validationError("INVALID_INPUT", fmt.Sprintf("%s は空のファイルです。", p.Name))
	}

	format, err := s.detect(path)
	if err != nil {
		return nil, newError(ErrValidation, "UNSUPPORTED_FORMAT", fmt.Sprintf("%s は対応していない形式です。", p.Name), err)
	}
	if _, ok := allowedUploadFormats[format]; !ok {
		return nil, validationError("UNSUPPORTED_FORMAT", fmt.Sprintf("%s は対応していない形式です。", p.Name))
	}

	file := &UploadedFile{
		Name:         filepath.Base(path),
		OriginalName: p.Name,
		Format:       format,
		Size:         size,
	}
	if format == codec.FormatPDF {
		pages, err := s.readablePages(ctx, path)
		if err != nil {
			// 読めないPDFも受け付ける。結合では除外され、単一ファイル操作では検証エラーになる
			s.logger.Info("uploaded pdf is unreadable", zap.String("job_id", jobID), zap.String("file", file.Name), zap.Error(err))
			file.Unreadable = true
			return file, nil
		}
		if pages > s.maxPages {
			return nil, validationError("LIMIT_EXCEEDED", fmt.Sprintf("%s のページ数が上限（%d ページ）を超えています。", p.Name, s.maxPages))
		}
		file.Pages = pages
	}
	return file, nil
}

func (s *Service) readablePages(ctx context.Context, path string) (int, error) {
	if err := s.engine.Validate(ctx, path); err != nil {
		return 0, err
	}
	return s.engine.PageCount(ctx, path)
}

// writeLimited は max バイトを超えた時点で LIMIT_EXCEEDED を返します。
func writeLimited(path string, body io.Reader, max int64) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o640)
	if err != nil {
		return 0, fmt.Errorf("ファイルの保存に失敗しました: %w", err)
	}
	n, copyErr := io.Copy(f, io.LimitReader(body, max+1))
	closeErr := f.Close()
	if copyErr != nil {
		return 0, fmt.Errorf("ファイルの保存に失敗しました: %w", copyErr)
	}
	if closeErr != nil {
		return 0, fmt.Errorf("ファイルの保存に失敗しました: %w", closeErr)
	}
	if n > max {
		return 0, validationError("LIMIT_EXCEEDED", fmt.Sprintf("ファイルサイズが上限（%d MB）を超えています。", max>>20))
	}
	return n, nil
}

// isLimitExceeded は上限超過エラーかどうかを返します。
func isLimitExceeded(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Code == "LIMIT_EXCEEDED"
}
