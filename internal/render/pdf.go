package render

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/yuin/goldmark/ast"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

const (
	bodyFont = "Helvetica"
	bodySize = 10.0
	lineH    = 5.0
)

// PDF renders markdown into an A4 PDF with title as the first heading and
// document title.
func PDF(title, markdown string) ([]byte, error) {
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetMargins(15, 15, 15)
	doc.SetAutoPageBreak(true, 15)
	doc.SetTitle(title, true)
	doc.SetCreator("paperlens", false)
	doc.AddPage()

	r := &pdfRenderer{
		pdf:    doc,
		tr:     doc.UnicodeTranslatorFromDescriptor(""),
		size:   bodySize,
		source: []byte(markdown),
	}

	if title != "" {
		doc.SetFont(bodyFont, "B", 16)
		doc.MultiCell(0, 8, r.clean(title), "", "L", false)
		doc.Ln(4)
	}
	r.updateFont()

	node := newMarkdown().Parser().Parse(text.NewReader(r.source))
	if err := ast.Walk(node, r.walk); err != nil {
		return nil, fmt.Errorf("rendering pdf: %w", err)
	}
	if err := doc.Error(); err != nil {
		return nil, fmt.Errorf("rendering pdf: %w", err)
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("writing pdf: %w", err)
	}
	return buf.Bytes(), nil
}

type pdfRenderer struct {
	pdf       *fpdf.Fpdf
	tr        func(string) string
	source    []byte
	size      float64
	bold      bool
	italic    bool
	listLevel int
}

func (r *pdfRenderer) updateFont() {
	style := ""
	if r.bold {
		style += "B"
	}
	if r.italic {
		style += "I"
	}
	r.pdf.SetFont(bodyFont, style, r.size)
}

// clean drops runes the core fonts cannot draw (emoji, CJK) and converts the
// rest to the cp1252 encoding they expect.
func (r *pdfRenderer) clean(s string) string {
	s = strings.Map(func(c rune) rune {
		switch {
		case c == '\t':
			return ' '
		case c < 0x100:
			return c
		case strings.ContainsRune("‘’“”–—…•€™", c):
			return c
		default:
			return -1
		}
	}, s)
	return r.tr(s)
}

func (r *pdfRenderer) write(s string) {
	r.pdf.Write(lineH, r.clean(s))
}

func (r *pdfRenderer) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch n := n.(type) {
	case *ast.Heading:
		if entering {
			r.pdf.Ln(4)
			size := 11.0
			switch n.Level {
			case 1:
				size = 14
			case 2:
				size = 12
			}
			r.pdf.SetFont(bodyFont, "B", size)
		} else {
			r.pdf.Ln(7)
			r.updateFont()
		}
	case *ast.Paragraph:
		if !entering {
			if r.listLevel == 0 {
				r.pdf.Ln(7)
			}
		}
	case *ast.TextBlock:
		// Tight list items hold text blocks instead of paragraphs.
	case *ast.Text:
		if entering {
			r.write(string(n.Segment.Value(r.source)))
			if n.SoftLineBreak() {
				r.write(" ")
			}
			if n.HardLineBreak() {
				r.pdf.Ln(lineH)
			}
		}
	case *ast.String:
		if entering {
			r.write(string(n.Value))
		}
	case *ast.Emphasis:
		if n.Level == 2 {
			r.bold = entering
		} else {
			r.italic = entering
		}
		r.updateFont()
	case *ast.CodeSpan:
		if entering {
			r.pdf.SetFont("Courier", "", r.size)
			for c := n.FirstChild(); c != nil; c = c.NextSibling() {
				if t, ok := c.(*ast.Text); ok {
					r.write(string(t.Segment.Value(r.source)))
				}
			}
			r.updateFont()
		}
		return ast.WalkSkipChildren, nil
	case *ast.FencedCodeBlock:
		if entering {
			r.codeBlock(n.Lines())
		}
		return ast.WalkSkipChildren, nil
	case *ast.CodeBlock:
		if entering {
			r.codeBlock(n.Lines())
		}
		return ast.WalkSkipChildren, nil
	case *ast.List:
		if entering {
			r.listLevel++
		} else {
			r.listLevel--
			if r.listLevel == 0 {
				r.pdf.Ln(lineH + 2)
			}
		}
	case *ast.ListItem:
		if entering {
			r.pdf.Ln(lineH)
			r.pdf.SetX(15 + float64(r.listLevel)*5)
			r.write("- ")
		}
	case *ast.ThematicBreak:
		if entering {
			r.pdf.Ln(2)
			r.pdf.Line(15, r.pdf.GetY(), 195, r.pdf.GetY())
			r.pdf.Ln(2)
		}
	case *extast.Table:
		if entering {
			r.table(n)
		}
		return ast.WalkSkipChildren, nil
	}
	return ast.WalkContinue, nil
}

func (r *pdfRenderer) codeBlock(lines *text.Segments) {
	r.pdf.Ln(2)
	r.pdf.SetFont("Courier", "", 9)
	r.pdf.SetFillColor(245, 245, 245)
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		r.pdf.MultiCell(0, 4.5, r.clean(strings.TrimRight(string(line.Value(r.source)), "\n")), "", "L", true)
	}
	r.pdf.SetFillColor(255, 255, 255)
	r.updateFont()
	r.pdf.Ln(2)
}

// table draws rows as equal-width cells. Long cell text is cut to the cell.
func (r *pdfRenderer) table(n *extast.Table) {
	var rows [][]string
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		var row []string
		for cell := child.FirstChild(); cell != nil; cell = cell.NextSibling() {
			row = append(row, string(cell.Text(r.source)))
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return
	}

	colW := 180.0 / float64(len(rows[0]))
	r.pdf.Ln(2)
	for i, row := range rows {
		style := ""
		if i == 0 {
			style = "B"
		}
		r.pdf.SetFont(bodyFont, style, 8)
		for _, cell := range row {
			txt := r.clean(cell)
			for len(txt) > 0 && r.pdf.GetStringWidth(txt) > colW-2 {
				txt = txt[:len(txt)-1]
			}
			r.pdf.CellFormat(colW, 6, txt, "1", 0, "L", false, 0, "")
		}
		r.pdf.Ln(6)
	}
	r.pdf.Ln(2)
	r.updateFont()
}
