package convert

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// pdfPageTexts 按页提取 PDF 文本，页序与文档一致（0 起始切片）
func pdfPageTexts(data []byte) ([]string, error) {
	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return nil, err
	}

	numPages := pdfReader.NumPage()
	texts := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := pdfReader.Page(i)
		if page.V.IsNull() {
			texts = append(texts, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to get text from page %d: %w", i, err)
		}
		texts = append(texts, text)
	}
	return texts, nil
}
