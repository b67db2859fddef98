// Package document はジョブに対する文書操作（結合・分割・並べ替え・回転・圧縮・変換・テキスト編集）と
// アップロード受付、成果物の取得を提供します。
package document

import (
	"strings"

	"github.com/yourusername/docforge/internal/codec"
)

// OperationType は文書操作の種別を表します。
type OperationType string

const (
	OperationMerge    OperationType = "merge"
	OperationSplit    OperationType = "split"
	OperationReorder  OperationType = "reorder"
	OperationRotate   OperationType = "rotate"
	OperationCompress OperationType = "compress"
	OperationConvert  OperationType = "convert"
	OperationEdit     OperationType = "edit"
)

// ParseOperation は操作名を OperationType に変換します。
func ParseOperation(s string) (OperationType, bool) {
	switch op := OperationType(strings.ToLower(strings.TrimSpace(s))); op {
	case OperationMerge, OperationSplit, OperationReorder, OperationRotate, OperationCompress, OperationConvert, OperationEdit:
		return op, true
	}
	return "", false
}

// Request は1回の操作要求です。キューのペイロードとしても使うため JSON で表現できます。
type Request struct {
	Operation OperationType `json:"operation"`
	Ranges    string        `json:"ranges,omitempty"`
	Order     string        `json:"order,omitempty"`
	Degrees   int           `json:"degrees,omitempty"`
	Pages     string        `json:"pages,omitempty"`
	Preset    string        `json:"preset,omitempty"`
	Target    string        `json:"target,omitempty"`
	Content   string        `json:"content,omitempty"`
}

// SourceFileMeta は入力ファイルの情報です。
type SourceFileMeta struct {
	Name   string       `json:"name"`
	Format codec.Format `json:"format,omitempty"`
	Size   int64        `json:"size"`
	Pages  int          `json:"pages,omitempty"`
}

// SkippedInput は結合対象から除外された入力です。
type SkippedInput struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// MergeMeta は結合処理のメタデータです。
type MergeMeta struct {
	TotalPages int              `json:"totalPages"`
	Sources    []SourceFileMeta `json:"sources"`
	Skipped    []SkippedInput   `json:"skipped,omitempty"`
}

// SplitPart は分割で生成された各PDFの情報です。
type SplitPart struct {
	Filename string `json:"filename"`
	FromPage int    `json:"fromPage"`
	ToPage   int    `json:"toPage"`
	Pages    int    `json:"pages"`
	Size     int64  `json:"size"`
}

// SplitMeta は分割処理のメタデータです。
type SplitMeta struct {
	Original SourceFileMeta `json:"original"`
	Ranges   string         `json:"ranges"`
	Parts    []SplitPart    `json:"parts"`
}

// ReorderMeta はページ順入替処理のメタデータです。
type ReorderMeta struct {
	Original SourceFileMeta `json:"original"`
	Order    []int          `json:"order"`
	Pages    int            `json:"pages"`
}

// RotateMeta は回転処理のメタデータです。Pages が空の場合は全ページが対象です。
type RotateMeta struct {
	Original SourceFileMeta `json:"original"`
	Degrees  int            `json:"degrees"`
	Pages    []int          `json:"pages,omitempty"`
}

// CompressMeta は圧縮処理のメタデータです。
type CompressMeta struct {
	OriginalSize int64          `json:"originalSize"`
	OutputSize   int64          `json:"outputSize"`
	SavedBytes   int64          `json:"savedBytes"`
	SavedPercent float64        `json:"savedPercent"`
	Preset       codec.Preset   `json:"preset"`
	Original     SourceFileMeta `json:"original"`
}

// ConvertMeta は形式変換のメタデータです。
type ConvertMeta struct {
	Original   SourceFileMeta `json:"original"`
	From       codec.Format   `json:"from"`
	To         codec.Format   `json:"to"`
	OutputSize int64          `json:"outputSize"`
}

// EditMeta はテキスト編集のメタデータです。
type EditMeta struct {
	Target     codec.Format `json:"target"`
	Lines      int          `json:"lines"`
	Characters int          `json:"characters"`
	OutputSize int64        `json:"outputSize"`
}
