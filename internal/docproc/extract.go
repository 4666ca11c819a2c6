package docproc

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/net/html"

	"ragchat.dev/doc-chatbot/internal/store"
)

// Segment is a located piece of extracted text: one PDF page, one slide, one sheet, one
// Markdown section, or the whole file for formats without structure.
type Segment struct {
	Text    string
	Locator store.Locator
}

type extractor func(data []byte, name string) ([]Segment, error)

var extractors = map[string]extractor{
	".pdf":  extractPDF,
	".docx": extractDOCX,
	".pptx": extractPPTX,
	".xlsx": extractXLSX,
	".txt":  extractTXT,
	".md":   extractMarkdown,
	".html": extractHTML,
	".htm":  extractHTML,
}

func extractTXT(data []byte, _ string) ([]Segment, error) {
	return []Segment{{Text: strings.ToValidUTF8(string(data), "")}}, nil
}

// extractPDF returns one segment per page that has text. The pdf library panics on some
// malformed files, so panics are turned into errors.
func extractPDF(data []byte, _ string) (segments []Segment, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to read pdf page %d: %w", i, err)
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		pageNum := i
		segments = append(segments, Segment{Text: content, Locator: store.Locator{Page: &pageNum}})
	}
	return segments, nil
}

func extractDOCX(data []byte, _ string) ([]Segment, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open docx: %w", err)
	}
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			body, err := ooxmlText(f)
			if err != nil {
				return nil, fmt.Errorf("failed to read docx body: %w", err)
			}
			return []Segment{{Text: body}}, nil
		}
	}
	return nil, errors.New("docx has no word/document.xml")
}

var slidePattern = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// extractPPTX returns one segment per slide, ordered by slide number.
func extractPPTX(data []byte, _ string) ([]Segment, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open pptx: %w", err)
	}

	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		if m := slidePattern.FindStringSubmatch(f.Name); m != nil {
			num, _ := strconv.Atoi(m[1])
			slides = append(slides, slide{num: num, file: f})
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var segments []Segment
	for _, s := range slides {
		body, err := ooxmlText(s.file)
		if err != nil {
			return nil, fmt.Errorf("failed to read slide %d: %w", s.num, err)
		}
		if strings.TrimSpace(body) == "" {
			continue
		}
		num := s.num
		segments = append(segments, Segment{Text: body, Locator: store.Locator{SlideNumber: &num}})
	}
	return segments, nil
}

// ooxmlText walks a WordprocessingML or DrawingML part. Paragraph text (<t>) is emitted
// one paragraph per line; table rows are emitted as cells joined with " | ".
func ooxmlText(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	var out, para, cell strings.Builder
	var row []string
	inText := false
	tableDepth := 0

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				para.WriteByte('\t')
			case "br":
				para.WriteByte('\n')
			case "tbl":
				tableDepth++
			case "tr":
				row = row[:0]
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				line := strings.TrimSpace(para.String())
				para.Reset()
				if line == "" {
					continue
				}
				if tableDepth > 0 {
					if cell.Len() > 0 {
						cell.WriteByte(' ')
					}
					cell.WriteString(line)
				} else {
					out.WriteString(line)
					out.WriteByte('\n')
				}
			case "tc":
				row = append(row, strings.TrimSpace(cell.String()))
				cell.Reset()
			case "tr":
				line := strings.Join(row, " | ")
				if strings.Trim(line, " |") != "" {
					out.WriteString(line)
					out.WriteByte('\n')
				}
			case "tbl":
				if tableDepth > 0 {
					tableDepth--
				}
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	return out.String(), nil
}

// extractXLSX returns one segment per sheet, rows rendered as cells joined with " | ".
func extractXLSX(data []byte, _ string) ([]Segment, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer f.Close()

	var segments []Segment
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
		}
		var b strings.Builder
		for _, row := range rows {
			line := strings.Join(row, " | ")
			if strings.Trim(line, " |") == "" {
				continue
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}
		if b.Len() == 0 {
			continue
		}
		name := sheet
		segments = append(segments, Segment{Text: b.String(), Locator: store.Locator{Sheet: &name}})
	}
	return segments, nil
}

// extractMarkdown splits the document at top-level headings; each heading names the
// section of the text that follows it.
func extractMarkdown(data []byte, _ string) ([]Segment, error) {
	src := []byte(strings.ToValidUTF8(string(data), ""))
	doc := goldmark.DefaultParser().Parse(text.NewReader(src))

	var segments []Segment
	var current strings.Builder
	var section *string
	flush := func() {
		if strings.TrimSpace(current.String()) != "" {
			segments = append(segments, Segment{Text: current.String(), Locator: store.Locator{Section: section}})
		}
		current.Reset()
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if heading, ok := n.(*ast.Heading); ok {
			flush()
			title := strings.TrimSpace(markdownText(heading, src))
			section = &title
			current.WriteString(title)
			current.WriteByte('\n')
			continue
		}
		current.WriteString(markdownText(n, src))
		current.WriteByte('\n')
	}
	flush()
	return segments, nil
}

func markdownText(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if node.Type() == ast.TypeBlock {
				b.WriteByte('\n')
			}
			return ast.WalkContinue, nil
		}
		switch v := node.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(src))
			if v.SoftLineBreak() || v.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.String:
			b.Write(v.Value)
		case *ast.CodeBlock, *ast.FencedCodeBlock, *ast.HTMLBlock:
			lines := node.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(src))
			}
			b.WriteByte('\n')
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

// extractHTML prefers the readability main-content text; pages readability cannot
// parse, or where it finds nothing, fall back to all visible text.
func extractHTML(data []byte, name string) ([]Segment, error) {
	pageURL := &url.URL{Scheme: "file", Path: "/" + path.Base(name)}
	article, err := readability.FromReader(bytes.NewReader(data), pageURL)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		seg := Segment{Text: article.TextContent}
		if title := strings.TrimSpace(article.Title); title != "" {
			seg.Locator.Section = &title
		}
		return []Segment{seg}, nil
	}

	body, err := htmlVisibleText(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	return []Segment{{Text: body}}, nil
}

var skippedHTMLTags = map[string]bool{"script": true, "style": true, "noscript": true, "template": true}

func htmlVisibleText(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	var b strings.Builder
	skipDepth := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return b.String(), nil
			}
			return "", z.Err()
		case html.StartTagToken:
			name, _ := z.TagName()
			if skippedHTMLTags[string(name)] {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if skippedHTMLTags[string(name)] && skipDepth > 0 {
				skipDepth--
			}
			b.WriteByte('\n')
		case html.TextToken:
			if skipDepth == 0 {
				b.Write(z.Text())
				b.WriteByte(' ')
			}
		}
	}
}
