package codec

import (
	"fmt"
	"strings"

	"github.com/gomutex/godocx"
)

// writeDocx は1行を1段落とした DOCX を書き出します。
// 改ページ文字（pdftotext のページ区切り）は改ページとして扱います。
func writeDocx(text, out string) error {
	doc, err := godocx.NewDocument()
	if err != nil {
		return fmt.Errorf("docx: new document: %w", err)
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	for _, line := range strings.Split(text, "\n") {
		for i, part := range strings.Split(line, "\f") {
			if i > 0 {
				doc.AddPageBreak()
			}
			doc.AddParagraph(part)
		}
	}

	if err := doc.SaveTo(out); err != nil {
		return fmt.Errorf("docx: save: %w", err)
	}
	return nil
}
