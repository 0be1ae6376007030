package calendar

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// maxImportBytes caps the size of an imported calendar export.
const maxImportBytes = 8 << 20

// ImportFile reads schedule text from an exported calendar file. Supported
// formats are plain text (.txt, .md, or no extension), PDF and HTML.
func ImportFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	if info.Size() > maxImportBytes {
		return "", fmt.Errorf("%s is too large (%d bytes, max %d)", path, info.Size(), maxImportBytes)
	}

	var text string
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".pdf":
		text, err = pdfText(path)
	case ".html", ".htm":
		var data []byte
		data, err = os.ReadFile(path)
		if err == nil {
			text, err = HTMLText(bytes.NewReader(data))
		}
	case "", ".txt", ".md", ".text":
		var data []byte
		data, err = os.ReadFile(path)
		text = string(data)
	default:
		return "", fmt.Errorf("unsupported calendar file type %q", ext)
	}
	if err != nil {
		return "", err
	}
	return normalizeLines(text), nil
}

// FileSource is a Source backed by an exported calendar file. It needs no
// sign-in.
type FileSource struct {
	Path string
}

func (f FileSource) SignIn(context.Context) (SignInResult, error) {
	return SignInResult{SignedIn: true}, nil
}

func (f FileSource) SignOut(context.Context) error { return nil }

// ListTodaysEvents returns the file's text, or NoEventsText when it is empty.
func (f FileSource) ListTodaysEvents(context.Context) (string, error) {
	text, err := ImportFile(f.Path)
	if err != nil {
		return "", err
	}
	if text == "" {
		return NoEventsText, nil
	}
	return text, nil
}

func pdfText(path string) (string, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()

	var lines []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			// Skip unreadable pages rather than failing the import.
			continue
		}
		for _, row := range rows {
			var b strings.Builder
			for _, word := range row.Content {
				b.WriteString(word.S)
			}
			lines = append(lines, b.String())
		}
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("no text extracted from PDF")
	}
	return strings.Join(lines, "\n"), nil
}

var blockElements = map[string]bool{
	"p": true, "br": true, "div": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "section": true, "article": true,
}

// HTMLText extracts visible text from an HTML calendar export, one line per
// block element.
func HTMLText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" || node.Data == "head" {
				return
			}
			if node.Data == "td" || node.Data == "th" {
				buf.WriteString(" ")
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type == html.ElementNode && blockElements[node.Data] {
			buf.WriteString("\n")
		}
	}
	walk(doc)
	return buf.String(), nil
}

// normalizeLines collapses whitespace within lines and drops blank lines.
func normalizeLines(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
