package document

import (
	"context"

	"github.com/yourusername/docforge/internal/codec"
)

// PDFEngine はPDFのページ単位の操作を提供します。
type PDFEngine interface {
	PageCount(ctx context.Context, path string) (int, error)
	Validate(ctx context.Context, path string) error
	Merge(ctx context.Context, inputs []string, out string) error
	ExtractPages(ctx context.Context, in, out string, pages []int) error
	RotatePages(ctx context.Context, in, out string, pages []int, degrees int) error
}

// Optimizer はPDFを再圧縮します。
type Optimizer interface {
	Optimize(ctx context.Context, in, out string, preset codec.Preset) error
}

// Converter は形式変換を提供します。
type Converter interface {
	Supports(from, to codec.Format) bool
	Convert(ctx context.Context, in string, from, to codec.Format, out string) error
}

// Publisher は成果物をオブジェクトストレージに複製し、署名付きURLを発行します。
type Publisher interface {
	Upload(ctx context.Context, key, path, contentType string) error
	PresignGet(ctx context.Context, key string) (string, error)
}

// ProgressReporter は進捗更新用コールバックです。
type ProgressReporter func(stage string, percent int)
