package codec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var disableConfigDir sync.Once

// PDFEngine は pdfcpu を使ったPDF操作を提供します。
// pdfcpu の処理はキャンセルできないため、context は開始前にのみ確認します。
type PDFEngine struct {
	conf *model.Configuration
}

// NewPDFEngine は PDFEngine を作成します。ユーザー設定ディレクトリは使いません。
func NewPDFEngine() *PDFEngine {
	disableConfigDir.Do(pdfapi.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFEngine{conf: conf}
}

// PageCount はページ数を返します。
func (e *PDFEngine) PageCount(ctx context.Context, path string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := pdfapi.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("pdfcpu: page count: %w", err)
	}
	return n, nil
}

// Validate はPDFとして読み込めるかを検証します。
func (e *PDFEngine) Validate(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := pdfapi.ValidateFile(path, e.config()); err != nil {
		return fmt.Errorf("pdfcpu: validate: %w", err)
	}
	return nil
}

// Merge は inputs を順番どおりに結合して out に書き出します。
func (e *PDFEngine) Merge(ctx context.Context, inputs []string, out string) error {
	if len(inputs) == 0 {
		return errors.New("pdfcpu: merge: no inputs")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := pdfapi.MergeCreateFile(inputs, out, false, e.config()); err != nil {
		return fmt.Errorf("pdfcpu: merge: %w", err)
	}
	return nil
}

// ExtractPages は pages の順にページを並べた新しいPDFを書き出します。重複指定も有効です。
func (e *PDFEngine) ExtractPages(ctx context.Context, in, out string, pages []int) error {
	if len(pages) == 0 {
		return errors.New("pdfcpu: collect: no pages selected")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := pdfapi.CollectFile(in, out, pageSelection(pages), e.config()); err != nil {
		return fmt.Errorf("pdfcpu: collect: %w", err)
	}
	return nil
}

// RotatePages は現在の回転に degrees を加えます。pages が空なら全ページが対象です。
func (e *PDFEngine) RotatePages(ctx context.Context, in, out string, pages []int, degrees int) error {
	if degrees%90 != 0 {
		return fmt.Errorf("pdfcpu: rotate: invalid rotation %d", degrees)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var selected []string
	if len(pages) > 0 {
		selected = pageSelection(pages)
	}
	if err := pdfapi.RotateFile(in, out, degrees, selected, e.config()); err != nil {
		return fmt.Errorf("pdfcpu: rotate: %w", err)
	}
	return nil
}

// Optimize は pdfcpu の最適化を行います。Ghostscript が使えない環境の代替で、プリセットは無視します。
func (e *PDFEngine) Optimize(ctx context.Context, in, out string, _ Preset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := pdfapi.OptimizeFile(in, out, e.config()); err != nil {
		return fmt.Errorf("pdfcpu: optimize: %w", err)
	}
	return nil
}

// ImportImages は画像1枚を1ページとしたPDFを作成します。
func (e *PDFEngine) ImportImages(ctx context.Context, images []string, out string) error {
	if len(images) == 0 {
		return errors.New("pdfcpu: import: no images")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := pdfapi.ImportImagesFile(images, out, pdfcpu.DefaultImportConfig(), e.config()); err != nil {
		return fmt.Errorf("pdfcpu: import images: %w", err)
	}
	return nil
}

// テキストPDFのレイアウト（A4縦、単位はポイント）
const (
	textPageHeight = 842
	textMargin     = 60
	textFontSize   = 12
	textLeading    = 14
)

type textLayout struct {
	Paper  string               `json:"paper"`
	Origin string               `json:"origin"`
	Pages  map[string]*textPage `json:"pages"`
}

type textPage struct {
	Content textContent `json:"content"`
}

type textContent struct {
	Text []textBox `json:"text"`
}

type textBox struct {
	Value string     `json:"value"`
	Pos   [2]float64 `json:"pos"`
	Font  textFont   `json:"font"`
}

type textFont struct {
	Name string `json:"name"`
	Size int    `json:"size"`
}

// layoutText は1行ずつ Helvetica で配置し、下余白に達したら改ページします。
// 改ページ文字でも次のページに進みます。
func layoutText(text string) *textLayout {
	layout := &textLayout{Paper: "A4P", Origin: "LowerLeft", Pages: map[string]*textPage{}}
	page := &textPage{}
	layout.Pages["1"] = page
	y := float64(textPageHeight - textMargin)
	next := func() {
		page = &textPage{}
		layout.Pages[strconv.Itoa(len(layout.Pages)+1)] = page
		y = textPageHeight - textMargin
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	for _, line := range strings.Split(text, "\n") {
		for i, part := range strings.Split(line, "\f") {
			if i > 0 {
				next()
			}
			if y < textMargin {
				next()
			}
			if part = strings.TrimRight(part, " \t\r"); part != "" {
				page.Content.Text = append(page.Content.Text, textBox{
					Value: part,
					Pos:   [2]float64{textMargin, y},
					Font:  textFont{Name: "Helvetica", Size: textFontSize},
				})
			}
			y -= textLeading
		}
	}
	return layout
}

// WriteText はテキストを A4 のPDFとして書き出します。
func (e *PDFEngine) WriteText(ctx context.Context, text, out string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	layout, err := json.Marshal(layoutText(text))
	if err != nil {
		return fmt.Errorf("pdfcpu: create: %w", err)
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := pdfapi.Create(nil, bytes.NewReader(layout), f, e.config()); err != nil {
		f.Close()
		os.Remove(out)
		return fmt.Errorf("pdfcpu: create: %w", err)
	}
	return f.Close()
}

// config は呼び出しごとの設定コピーを返します。pdfcpu は処理中に Configuration を書き換えるためです。
func (e *PDFEngine) config() *model.Configuration {
	c := *e.conf
	return &c
}

func pageSelection(pages []int) []string {
	selected := make([]string, len(pages))
	for i, p := range pages {
		selected[i] = strconv.Itoa(p)
	}
	return selected
}
