package codec

import (
	"context"
	"fmt"
	"strings"
)

// Preset は圧縮プリセットです。
type Preset string

const (
	PresetHigh   Preset = "high"
	PresetMedium Preset = "medium"
	PresetLow    Preset = "low"

	DefaultPreset = PresetMedium
)

// ParsePreset はプリセット名を正規化します。空文字は既定値になります。
func ParsePreset(s string) (Preset, bool) {
	switch Preset(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return DefaultPreset, true
	case PresetHigh:
		return PresetHigh, true
	case PresetMedium:
		return PresetMedium, true
	case PresetLow:
		return PresetLow, true
	}
	return "", false
}

// pdfSettings は Ghostscript の -dPDFSETTINGS 値です。high が最も強く圧縮します。
func (p Preset) pdfSettings() string {
	switch p {
	case PresetHigh:
		return "/screen"
	case PresetLow:
		return "/printer"
	default:
		return "/ebook"
	}
}

// Ghostscript は gs コマンドでPDFを再圧縮します。
type Ghostscript struct {
	path   string
	runner Runner
}

// NewGhostscript は Ghostscript を作成します。
func NewGhostscript(path string, runner Runner) *Ghostscript {
	return &Ghostscript{path: path, runner: runner}
}

// Optimize は preset に従って in を圧縮し、out に書き出します。
func (g *Ghostscript) Optimize(ctx context.Context, in, out string, preset Preset) error {
	_, stderr, err := g.runner.Run(ctx, g.path, ghostscriptArgs(in, out, preset)...)
	if err != nil {
		return toolError("ghostscript", stderr, err)
	}
	return nil
}

func ghostscriptArgs(in, out string, preset Preset) []string {
	return []string{
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.5",
		"-dNOPAUSE",
		"-dQUIET",
		"-dBATCH",
		fmt.Sprintf("-dPDFSETTINGS=%s", preset.pdfSettings()),
		fmt.Sprintf("-sOutputFile=%s", out),
		in,
	}
}
