// Package codec はPDFエンジン・圧縮・形式変換などの具体的な処理系を提供します。
package codec

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Format はファイル形式を表します。値は拡張子（ドットなし）です。
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatXLSX Format = "xlsx"
	FormatPPTX Format = "pptx"
	FormatTXT  Format = "txt"
	FormatCSV  Format = "csv"
	FormatPNG  Format = "png"
	FormatJPG  Format = "jpg"
	FormatBMP  Format = "bmp"
	FormatTIFF Format = "tiff"
	FormatGIF  Format = "gif"
	FormatWEBP Format = "webp"
)

var (
	// ErrUnsupportedConversion は変換元と変換先の組み合わせに対応する処理がない場合に返されます。
	ErrUnsupportedConversion = errors.New("unsupported conversion")

	// ErrUnknownFormat は内容から形式を判定できなかった場合に返されます。
	ErrUnknownFormat = errors.New("unknown file format")
)

var formatMIME = []struct {
	format Format
	mime   string
}{
	{FormatPDF, "application/pdf"},
	{FormatDOCX, "application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
	{FormatXLSX, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
	{FormatPPTX, "application/vnd.openxmlformats-officedocument.presentationml.presentation"},
	{FormatPNG, "image/png"},
	{FormatJPG, "image/jpeg"},
	{FormatBMP, "image/bmp"},
	{FormatTIFF, "image/tiff"},
	{FormatGIF, "image/gif"},
	{FormatWEBP, "image/webp"},
	{FormatCSV, "text/csv"},
	{FormatTXT, "text/plain"},
}

// ParseFormat は "JPEG" や ".tif" のような表記を Format に正規化します。
func ParseFormat(token string) (Format, bool) {
	t := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(token), "."))
	switch t {
	case "jpeg":
		return FormatJPG, true
	case "tif":
		return FormatTIFF, true
	}
	for _, fm := range formatMIME {
		if string(fm.format) == t {
			return fm.format, true
		}
	}
	return "", false
}

// Ext はドット付きの拡張子を返します。
func (f Format) Ext() string {
	return "." + string(f)
}

// MIME は形式に対応する MIME タイプを返します。
func (f Format) MIME() string {
	for _, fm := range formatMIME {
		if fm.format == f {
			return fm.mime
		}
	}
	return "application/octet-stream"
}

// IsImage はラスター画像形式かどうかを返します。
func (f Format) IsImage() bool {
	switch f {
	case FormatPNG, FormatJPG, FormatBMP, FormatTIFF, FormatGIF, FormatWEBP:
		return true
	}
	return false
}

// DetectFile はファイル内容から形式を判定します。
// テキスト系は内容だけでは CSV と区別できないことがあるため、拡張子も参考にします。
func DetectFile(path string) (Format, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect %s: %w", filepath.Base(path), err)
	}
	return formatFromMIME(mt, filepath.Ext(path))
}

// DetectBytes は先頭バイト列から形式を判定します。
func DetectBytes(head []byte, filename string) (Format, error) {
	return formatFromMIME(mimetype.Detect(head), filepath.Ext(filename))
}

func formatFromMIME(mt *mimetype.MIME, ext string) (Format, error) {
	for _, fm := range formatMIME {
		if !mt.Is(fm.mime) {
			continue
		}
		if fm.format == FormatTXT && strings.EqualFold(ext, FormatCSV.Ext()) {
			return FormatCSV, nil
		}
		return fm.format, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownFormat, mt.String())
}
