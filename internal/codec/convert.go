package codec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
)

// ConvertFunc は in を変換して out に書き出します。
type ConvertFunc func(ctx context.Context, in, out string) error

type conversion struct {
	from Format
	to   Format
}

// Tools は変換に使う処理系の設定です。パスが空の外部コマンドに依存する変換は登録されません。
type Tools struct {
	Engine      *PDFEngine
	Runner      Runner
	PDFToPPM    string
	PDFToText   string
	LibreOffice string
	DPI         int
	Logger      *zap.Logger
}

// Registry は (変換元, 変換先) ごとの変換処理を保持します。
type Registry struct {
	funcs  map[conversion]ConvertFunc
	logger *zap.Logger
}

// NewRegistry は空の Registry を作成します。
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{funcs: make(map[conversion]ConvertFunc), logger: logger}
}

// NewDefaultRegistry は組み込みの変換をすべて登録した Registry を作成します。
func NewDefaultRegistry(t Tools) *Registry {
	r := NewRegistry(t.Logger)
	if t.DPI <= 0 {
		t.DPI = 150
	}

	rasterTargets := []Format{FormatPNG, FormatJPG}
	for _, from := range []Format{FormatPNG, FormatJPG, FormatBMP, FormatTIFF, FormatGIF, FormatWEBP} {
		for _, to := range rasterTargets {
			if from == to {
				continue
			}
			to := to
			r.Register(from, to, func(_ context.Context, in, out string) error {
				return transcodeImage(in, to, out)
			})
		}
	}

	if t.Engine != nil {
		for _, from := range []Format{FormatPNG, FormatJPG} {
			r.Register(from, FormatPDF, func(ctx context.Context, in, out string) error {
				return t.Engine.ImportImages(ctx, []string{in}, out)
			})
		}
		// pdfcpu が直接読めない形式は PNG を経由する
		for _, from := range []Format{FormatBMP, FormatTIFF, FormatGIF, FormatWEBP} {
			r.Register(from, FormatPDF, func(ctx context.Context, in, out string) error {
				tmp := filepath.Join(filepath.Dir(out), ".import.png")
				defer os.Remove(tmp)
				if err := transcodeImage(in, FormatPNG, tmp); err != nil {
					return err
				}
				return t.Engine.ImportImages(ctx, []string{tmp}, out)
			})
		}
		// LibreOffice が使える場合は下で上書きする
		r.Register(FormatTXT, FormatPDF, func(ctx context.Context, in, out string) error {
			data, err := os.ReadFile(in)
			if err != nil {
				return err
			}
			return t.Engine.WriteText(ctx, string(data), out)
		})
	}

	r.Register(FormatCSV, FormatXLSX, func(_ context.Context, in, out string) error {
		return csvToXLSX(in, out)
	})
	r.Register(FormatTXT, FormatDOCX, func(_ context.Context, in, out string) error {
		data, err := os.ReadFile(in)
		if err != nil {
			return err
		}
		return writeDocx(string(data), out)
	})

	if t.Runner == nil {
		return r
	}
	if t.PDFToPPM != "" {
		for _, to := range rasterTargets {
			to := to
			r.Register(FormatPDF, to, func(ctx context.Context, in, out string) error {
				return pdftoppmFirstPage(ctx, t.Runner, t.PDFToPPM, t.DPI, in, to, out)
			})
		}
	}
	if t.PDFToText != "" {
		r.Register(FormatPDF, FormatDOCX, func(ctx context.Context, in, out string) error {
			text, err := pdftotext(ctx, t.Runner, t.PDFToText, in)
			if err != nil {
				return err
			}
			return writeDocx(text, out)
		})
	}
	if t.LibreOffice != "" {
		for _, from := range []Format{FormatDOCX, FormatPPTX, FormatXLSX, FormatTXT, FormatCSV} {
			r.Register(from, FormatPDF, func(ctx context.Context, in, out string) error {
				return libreOfficeToPDF(ctx, t.Runner, t.LibreOffice, in, out)
			})
		}
	}
	return r
}

// Register は変換処理を登録します。同じ組み合わせは上書きされます。
func (r *Registry) Register(from, to Format, fn ConvertFunc) {
	r.funcs[conversion{from: from, to: to}] = fn
}

// Supports は変換処理が登録されているかを返します。
func (r *Registry) Supports(from, to Format) bool {
	_, ok := r.funcs[conversion{from: from, to: to}]
	return ok
}

// Convert は in を to 形式に変換し out に書き出します。
func (r *Registry) Convert(ctx context.Context, in string, from, to Format, out string) error {
	fn, ok := r.funcs[conversion{from: from, to: to}]
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrUnsupportedConversion, from, to)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(ctx, in, out); err != nil {
		return fmt.Errorf("convert %s -> %s: %w", from, to, err)
	}
	r.logger.Debug("converted", zap.String("from", string(from)), zap.String("to", string(to)))
	return nil
}

// Pairs は登録済みの変換を "from->to" 形式で返します。
func (r *Registry) Pairs() []string {
	pairs := make([]string, 0, len(r.funcs))
	for c := range r.funcs {
		pairs = append(pairs, string(c.from)+"->"+string(c.to))
	}
	sort.Strings(pairs)
	return pairs
}
