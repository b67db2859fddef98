package document

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/docforge/internal/codec"
	"github.com/yourusername/docforge/internal/jobs"
)

const (
	defaultMaxFileSize = 100 << 20
	defaultMaxFiles    = 20
	defaultMaxPages    = 2000
)

// Options は Service の設定です。
type Options struct {
	// MaxFileSize は1ファイルあたりの上限バイト数です。
	MaxFileSize int64
	// MaxFiles は1回のアップロードで受け付けるファイル数の上限です。
	MaxFiles int
	// MaxPages はPDF1ファイルあたりのページ数上限です。
	MaxPages int
	// ResultBaseURL が設定されている場合、ダウンロードURLをこのベースから組み立てます。
	ResultBaseURL string

	Publisher Publisher
	Detect    func(path string) (codec.Format, error)
	Logger    *zap.Logger
}

// Service はジョブに対する文書操作を実行します。
type Service struct {
	store     *jobs.Store
	engine    PDFEngine
	optimizer Optimizer
	converter Converter
	publisher Publisher
	detect    func(path string) (codec.Format, error)

	maxFileSize   int64
	maxFiles      int
	maxPages      int
	resultBaseURL string

	logger *zap.Logger
	now    func() time.Time
}

// NewService は Service を初期化します。
func NewService(store *jobs.Store, engine PDFEngine, optimizer Optimizer, converter Converter, opts Options) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if engine == nil {
		return nil, errors.New("pdf engine is nil")
	}
	if optimizer == nil {
		return nil, errors.New("optimizer is nil")
	}
	if converter == nil {
		return nil, errors.New("converter is nil")
	}

	s := &Service{
		store:         store,
		engine:        engine,
		optimizer:     optimizer,
		converter:     converter,
		publisher:     opts.Publisher,
		detect:        opts.Detect,
		maxFileSize:   opts.MaxFileSize,
		maxFiles:      opts.MaxFiles,
		maxPages:      opts.MaxPages,
		resultBaseURL: opts.ResultBaseURL,
		logger:        opts.Logger,
		now:           time.Now,
	}
	if s.detect == nil {
		s.detect = codec.DetectFile
	}
	if s.maxFileSize <= 0 {
		s.maxFileSize = defaultMaxFileSize
	}
	if s.maxFiles <= 0 {
		s.maxFiles = defaultMaxFiles
	}
	if s.maxPages <= 0 {
		s.maxPages = defaultMaxPages
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s, nil
}

// sourceFile は入力ファイルを調べた結果です。
type sourceFile struct {
	path   string
	name   string
	format codec.Format
	size   int64
	pages  int
}

func (f sourceFile) meta() SourceFileMeta {
	return SourceFileMeta{Name: f.name, Format: f.format, Size: f.size, Pages: f.pages}
}

// inspectInput は形式・サイズ・ページ数を調べます。PDFとして読めない場合も err は返さず unreadable を立てます。
func (s *Service) inspectInput(ctx context.Context, path string) (file sourceFile, unreadable error, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return sourceFile{}, nil, fmt.Errorf("入力ファイルの確認に失敗しました: %w", err)
	}
	file = sourceFile{path: path, name: filepath.Base(path), size: info.Size()}

	format, detectErr := s.detect(path)
	if detectErr != nil {
		return file, detectErr, nil
	}
	file.format = format
	if format != codec.FormatPDF {
		return file, nil, nil
	}

	pages, countErr := s.engine.PageCount(ctx, path)
	if countErr != nil {
		return file, countErr, nil
	}
	file.pages = pages
	return file, nil, nil
}

// firstPDF は最初のPDF入力を返します。
func (s *Service) firstPDF(ctx context.Context, job *jobs.Job) (sourceFile, error) {
	for _, path := range job.InputFiles {
		file, unreadable, err := s.inspectInput(ctx, path)
		if err != nil {
			return sourceFile{}, err
		}
		if file.format != codec.FormatPDF {
			continue
		}
		if unreadable != nil {
			return sourceFile{}, newError(ErrValidation, "UNSUPPORTED_PDF", "PDFを読み込めませんでした。ファイルが破損していないか確認してください。", unreadable)
		}
		return file, nil
	}
	return sourceFile{}, validationError("NO_PDF_INPUT", "PDFファイルがアップロードされていません。")
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("出力ファイルの確認に失敗しました: %w", err)
	}
	return info.Size(), nil
}

func reportProgress(cb ProgressReporter, stage string, percent int) {
	if cb == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	cb(stage, percent)
}
