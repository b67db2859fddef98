package document

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/yourusername/docforge/internal/jobs"
)

// Output はダウンロード対象の成果物です。
type Output struct {
	JobID       string
	Index       int
	Path        string
	Filename    string
	Size        int64
	ContentType string
}

// Status はジョブの現在状態を返します。
func (s *Service) Status(ctx context.Context, jobID string) (*jobs.Job, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, storeError(err)
	}
	return job, nil
}

// ResolveOutput は index 番目の成果物を返します。
// 成果物が一度も作られていない場合は NotReady です。再実行中や再実行失敗後は直前に成功した成果物を返します。
func (s *Service) ResolveOutput(ctx context.Context, jobID string, index int) (*Output, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, storeError(err)
	}
	if len(job.OutputFiles) == 0 {
		return nil, newError(ErrNotReady, "NOT_READY", "成果物はまだ作成されていません。", nil)
	}
	if index < 0 || index >= len(job.OutputFiles) {
		return nil, validationError("INVALID_INDEX", fmt.Sprintf("index は 0 から %d の範囲で指定してください。", len(job.OutputFiles)-1))
	}

	path := job.OutputFiles[index]
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("成果物の確認に失敗しました: %w", err)
	}
	contentType := "application/octet-stream"
	if format, err := s.detect(path); err == nil {
		contentType = format.MIME()
	}
	return &Output{
		JobID:       jobID,
		Index:       index,
		Path:        path,
		Filename:    filepath.Base(path),
		Size:        info.Size(),
		ContentType: contentType,
	}, nil
}

// OpenOutput は成果物を開きます。呼び出し側でファイルを閉じてください。
func (s *Service) OpenOutput(ctx context.Context, jobID string, index int) (*Output, *os.File, error) {
	out, err := s.ResolveOutput(ctx, jobID, index)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(out.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("成果物の読み込みに失敗しました: %w", err)
	}
	return out, f, nil
}

// Archive は全成果物をまとめた ZIP の情報です。
type Archive struct {
	JobID    string
	Filename string
	files    []string
}

// ResolveArchive は全成果物を ZIP で返すための Archive を作ります。成果物がなければ NotReady です。
func (s *Service) ResolveArchive(ctx context.Context, jobID string) (*Archive, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, storeError(err)
	}
	if len(job.OutputFiles) == 0 {
		return nil, newError(ErrNotReady, "NOT_READY", "成果物はまだ作成されていません。", nil)
	}
	name := job.Operation
	if name == "" {
		name = "outputs"
	}
	return &Archive{JobID: job.ID, Filename: name + ".zip", files: job.OutputFiles}, nil
}

// Stream は ZIP を w に書き出します。
func (a *Archive) Stream(w io.Writer) error {
	return writeZip(w, a.files)
}

// DownloadURL は index 番目の成果物の取得先URLを返します。
// オブジェクトストレージが設定されていれば署名付きURL、それ以外は API のパスです。
func (s *Service) DownloadURL(ctx context.Context, job *jobs.Job, index int) (string, error) {
	if index < 0 || index >= len(job.OutputFiles) {
		return "", newError(ErrNotReady, "NOT_READY", "成果物はまだ作成されていません。", nil)
	}
	path := job.OutputFiles[index]
	if s.publisher != nil {
		key, err := s.store.OutputKey(job.ID, path)
		if err != nil {
			return "", err
		}
		return s.publisher.PresignGet(ctx, key)
	}
	if s.resultBaseURL != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.resultBaseURL, "/"), job.ID, url.PathEscape(filepath.Base(path))), nil
	}
	return fmt.Sprintf("/api/jobs/%s/download?index=%d", job.ID, index), nil
}

func writeZip(w io.Writer, files []string) error {
	zw := zip.NewWriter(w)
	for _, path := range files {
		if err := addZipEntry(zw, path); err != nil {
			zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("zipの書き込みに失敗しました: %w", err)
	}
	return nil
}

func addZipEntry(zw *zip.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("zip入力ファイルのオープンに失敗しました: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("zip入力ファイルの情報取得に失敗しました: %w", err)
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("zipヘッダーの生成に失敗しました: %w", err)
	}
	header.Name = filepath.Base(path)
	header.Method = zip.Deflate

	writer, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("zipヘッダーの書き込みに失敗しました: %w", err)
	}
	if _, err := io.Copy(writer, file); err != nil {
		return fmt.Errorf("zipへの書き込みに失敗しました: %w", err)
	}
	return nil
}
