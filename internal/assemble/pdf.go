package assemble

import (
	"bytes"
	"fmt"
	"strings"
)

const (
	pageWidth    = 612
	pageHeight   = 792
	marginLeft   = 72
	marginTop    = 720
	marginBottom = 72
	bodySize     = 11
	headingSize  = 18
	titleSize    = 24
	lineHeight   = 16
	maxLineChars = 88
)

// pdfLine is one positioned text line on a page.
type pdfLine struct {
	text string
	size int
}

// RenderPDF renders the document as a single-column PDF with a title page
// followed by one section per chapter.
func RenderPDF(doc Document) ([]byte, error) {
	if strings.TrimSpace(doc.Title) == "" {
		return nil, fmt.Errorf("document title is required")
	}
	if len(doc.Chapters) == 0 {
		return nil, fmt.Errorf("document has no chapters")
	}

	pages := layoutPages(doc)
	return writePDF(pages)
}

func layoutPages(doc Document) [][]pdfLine {
	var pages [][]pdfLine

	title := []pdfLine{{text: doc.Title, size: titleSize}}
	if strings.TrimSpace(doc.Subtitle) != "" {
		title = append(title, pdfLine{}, pdfLine{text: doc.Subtitle, size: bodySize})
	}
	pages = append(pages, title)

	for _, chapter := range doc.Chapters {
		var lines []pdfLine
		heading := fmt.Sprintf("Chapter %d: %s", chapter.Number, chapter.Title)
		lines = append(lines, pdfLine{text: heading, size: headingSize}, pdfLine{})
		for _, paragraph := range splitParagraphs(chapter.Body) {
			for _, line := range wrapText(paragraph, maxLineChars) {
				lines = append(lines, pdfLine{text: line, size: bodySize})
			}
			lines = append(lines, pdfLine{})
		}
		if strings.TrimSpace(chapter.Illustration) != "" {
			lines = append(lines, pdfLine{})
			for _, line := range wrapText("[Illustration: "+chapter.Illustration+"]", maxLineChars) {
				lines = append(lines, pdfLine{text: line, size: bodySize})
			}
		}
		pages = append(pages, paginate(lines)...)
	}
	return pages
}

// paginate splits a line run into page-sized chunks.
func paginate(lines []pdfLine) [][]pdfLine {
	perPage := (marginTop - marginBottom) / lineHeight
	var pages [][]pdfLine
	for len(lines) > 0 {
		n := perPage
		if n > len(lines) {
			n = len(lines)
		}
		pages = append(pages, lines[:n])
		lines = lines[n:]
	}
	return pages
}

func splitParagraphs(body string) []string {
	var out []string
	for _, p := range strings.Split(body, "\n\n") {
		p = strings.TrimSpace(strings.ReplaceAll(p, "\n", " "))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func wrapText(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	var lines []string
	var b strings.Builder
	for _, word := range words {
		if b.Len() > 0 && b.Len()+1+len(word) > width {
			lines = append(lines, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(word)
	}
	if b.Len() > 0 {
		lines = append(lines, b.String())
	}
	return lines
}

func writePDF(pages [][]pdfLine) ([]byte, error) {
	// Object layout: 1 catalog, 2 pages node, 3 font, then per page one
	// page object and one content stream.
	objCount := 3 + len(pages)*2
	offsets := make([]int, objCount+1)

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	writeObj := func(num int, body string) {
		offsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}

	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+i*2)
	}
	writeObj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))
	writeObj(3, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	for i, page := range pages {
		pageNum := 4 + i*2
		contentNum := pageNum + 1
		writeObj(pageNum, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d %d] /Contents %d 0 R /Resources << /Font << /F1 3 0 R >> >> >>",
			pageWidth, pageHeight, contentNum))

		stream := renderContentStream(page)
		writeObj(contentNum, fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", len(stream), stream))
	}

	xrefStart := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", objCount+1)
	buf.WriteString("0000000000 65535 f \n")
	for num := 1; num <= objCount; num++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[num])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", objCount+1, xrefStart)

	return buf.Bytes(), nil
}

func renderContentStream(lines []pdfLine) string {
	var b strings.Builder
	b.WriteString("BT\n")
	y := marginTop
	for _, line := range lines {
		if line.text != "" {
			size := line.size
			if size <= 0 {
				size = bodySize
			}
			fmt.Fprintf(&b, "/F1 %d Tf\n1 0 0 1 %d %d Tm\n(%s) Tj\n", size, marginLeft, y, escapePDFText(line.text))
		}
		y -= lineHeight
	}
	b.WriteString("ET\n")
	return b.String()
}

func escapePDFText(text string) string {
	replacer := strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`)
	return replacer.Replace(text)
}
