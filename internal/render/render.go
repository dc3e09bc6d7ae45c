// Package render produces Markdown and HTML previews of extracted questions.
package render

import (
	"bytes"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/dgallion1/examseg/internal/extract"
)

// Markdown renders q as Markdown. Images are placed after the paragraph
// they were found in; images from paragraphs outside the question content
// are appended at the end. imageBase prefixes every image URL.
func Markdown(q extract.QuestionExtract, images []extract.ImageExtract, imageBase string) string {
	byPara := make(map[int][]extract.ImageExtract)
	for _, img := range images {
		byPara[img.ParagraphIndex] = append(byPara[img.ParagraphIndex], img)
	}
	for _, imgs := range byPara {
		sort.SliceStable(imgs, func(i, j int) bool {
			return imgs[i].PositionInQuestion < imgs[j].PositionInQuestion
		})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## 第 %d 题\n\n", q.Number)
	if q.SectionName != "" {
		fmt.Fprintf(&b, "> %s\n\n", Escape(q.SectionName))
	}

	for _, p := range q.Content.Paragraphs {
		if p.Text != "" {
			b.WriteString(Escape(p.Text))
			b.WriteString("\n\n")
		}
		for _, img := range byPara[p.ParagraphIndex] {
			writeImage(&b, img, imageBase)
		}
		delete(byPara, p.ParagraphIndex)
	}

	var rest []extract.ImageExtract
	for _, imgs := range byPara {
		rest = append(rest, imgs...)
	}
	sort.Slice(rest, func(i, j int) bool {
		return rest[i].PositionInQuestion < rest[j].PositionInQuestion
	})
	for _, img := range rest {
		writeImage(&b, img, imageBase)
	}
	return b.String()
}

func writeImage(b *strings.Builder, img extract.ImageExtract, base string) {
	fmt.Fprintf(b, "![%s](%s/%s)\n\n", img.Role, strings.TrimSuffix(base, "/"), url.PathEscape(img.Filename))
}

// Escape backslash-escapes ASCII punctuation that Markdown would otherwise
// interpret, so "1. " or "*" in question text stays literal.
func Escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x80 && strings.ContainsRune("\\`*_{}[]()#+-.!|<>~", r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// HTML converts the Markdown preview of q into an HTML fragment.
func HTML(q extract.QuestionExtract, images []extract.ImageExtract, imageBase string) ([]byte, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(Markdown(q, images, imageBase)), &buf); err != nil {
		return nil, fmt.Errorf("convert markdown: %w", err)
	}
	return buf.Bytes(), nil
}

const pageSkeleton = `<!DOCTYPE html><html><head><meta charset="utf-8"><title></title></head><body></body></html>`

// Page wraps an HTML fragment into a complete document with the given title.
func Page(title string, fragment []byte) ([]byte, error) {
	doc, err := html.Parse(strings.NewReader(pageSkeleton))
	if err != nil {
		return nil, fmt.Errorf("parse skeleton: %w", err)
	}
	titleNode := find(doc, atom.Title)
	body := find(doc, atom.Body)
	if titleNode == nil || body == nil {
		return nil, fmt.Errorf("skeleton missing title or body")
	}
	titleNode.AppendChild(&html.Node{Type: html.TextNode, Data: title})

	nodes, err := html.ParseFragment(bytes.NewReader(fragment), body)
	if err != nil {
		return nil, fmt.Errorf("parse fragment: %w", err)
	}
	for _, n := range nodes {
		body.AppendChild(n)
	}

	var out bytes.Buffer
	if err := html.Render(&out, doc); err != nil {
		return nil, fmt.Errorf("render page: %w", err)
	}
	return out.Bytes(), nil
}

// Preview renders q as a complete HTML page.
func Preview(q extract.QuestionExtract, images []extract.ImageExtract, imageBase string) ([]byte, error) {
	frag, err := HTML(q, images, imageBase)
	if err != nil {
		return nil, err
	}
	return Page(fmt.Sprintf("第 %d 题", q.Number), frag)
}

func find(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := find(c, a); f != nil {
			return f
		}
	}
	return nil
}
