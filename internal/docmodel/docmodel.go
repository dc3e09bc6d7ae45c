// Package docmodel exposes a .docx compound document as an ordered, indexable
// sequence of body paragraphs, together with the package parts, relationship
// tables and content types needed to resolve embedded resources.
package docmodel

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/fumiama/go-docx"
)

// DocumentPart is the package part holding the main document body.
const DocumentPart = "word/document.xml"

var (
	// ErrNotDocx is returned when the input is not a readable zip package.
	ErrNotDocx = errors.New("not a docx package")
	// ErrNoBody is returned when the package has no main document part.
	ErrNoBody = errors.New("document body not found")
)

// Paragraph is an immutable view of one body paragraph, identified by its
// 0-based position in the document.
type Paragraph struct {
	Index         int
	Text          string // trimmed plain text
	ResourceCount int    // runs carrying an embedded picture
	Markup        Markup
}

// HasResources reports whether the paragraph carries at least one embedded resource.
func (p Paragraph) HasResources() bool {
	return p.ResourceCount > 0
}

// Relationship is one entry of a part's relationship table.
type Relationship struct {
	ID         string `xml:"Id,attr"`
	Type       string `xml:"Type,attr"`
	Target     string `xml:"Target,attr"`
	TargetMode string `xml:"TargetMode,attr"`
}

// External reports whether the target lives outside the package.
func (r Relationship) External() bool {
	return strings.EqualFold(r.TargetMode, "External")
}

// Document is an opened compound document.
type Document struct {
	name       string
	paragraphs []Paragraph
	files      map[string]*zip.File
	media      func(name string) []byte
	partRels   map[string]map[string]Relationship
	docRels    map[string]Relationship
	types      contentTypes

	closer io.Closer
}

// Open opens and parses the document at path. The caller must Close it.
func Open(filename string) (*Document, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat document: %w", err)
	}
	doc, err := Parse(f, info.Size(), filepath.Base(filename))
	if err != nil {
		f.Close()
		return nil, err
	}
	doc.closer = f
	return doc, nil
}

// Parse reads a document from r. Non-media parts are read lazily from r, so r
// must stay readable for the lifetime of the Document.
func Parse(r io.ReaderAt, size int64, name string) (*Document, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotDocx, err)
	}

	doc := &Document{
		name:     name,
		files:    make(map[string]*zip.File, len(zr.File)),
		partRels: make(map[string]map[string]Relationship),
		docRels:  make(map[string]Relationship),
	}
	for _, f := range zr.File {
		doc.files[f.Name] = f
	}
	if doc.files[DocumentPart] == nil {
		return nil, ErrNoBody
	}

	model, err := docx.Parse(r, size)
	if err != nil {
		return nil, fmt.Errorf("parse docx: %w", err)
	}
	doc.media = func(name string) []byte {
		if m := model.Media(name); m != nil {
			return m.Data
		}
		return nil
	}
	_ = model.RangeRelationships(func(rel *docx.Relationship) error {
		doc.docRels[rel.ID] = Relationship{
			ID:         rel.ID,
			Type:       rel.Type,
			Target:     rel.Target,
			TargetMode: rel.TargetMode,
		}
		return nil
	})

	body, err := doc.ReadPart(DocumentPart)
	if err != nil {
		return nil, fmt.Errorf("read document part: %w", err)
	}
	markups, err := scanMarkup(body, DocumentPart)
	if err != nil {
		return nil, fmt.Errorf("scan document markup: %w", err)
	}

	var paras []*docx.Paragraph
	for _, item := range model.Document.Body.Items {
		if p, ok := item.(*docx.Paragraph); ok {
			paras = append(paras, p)
		}
	}
	if len(paras) != len(markups) {
		return nil, fmt.Errorf("paragraph count mismatch: model has %d, markup has %d", len(paras), len(markups))
	}

	doc.paragraphs = make([]Paragraph, len(paras))
	for i, p := range paras {
		doc.paragraphs[i] = Paragraph{
			Index:         i,
			Text:          paragraphText(p),
			ResourceCount: countResourceRuns(markups[i].Runs),
			Markup:        markups[i],
		}
	}

	if err := doc.loadRelationships(); err != nil {
		return nil, err
	}
	if data, err := doc.ReadPart(contentTypesPart); err == nil {
		if err := xml.Unmarshal(data, &doc.types); err != nil {
			return nil, fmt.Errorf("parse content types: %w", err)
		}
	}

	return doc, nil
}

// FromParagraphs builds a document without a backing package. Indexes are
// reassigned to match slice positions. Resources never resolve against it.
func FromParagraphs(name string, paras []Paragraph) *Document {
	doc := &Document{
		name:       name,
		paragraphs: make([]Paragraph, len(paras)),
		files:      map[string]*zip.File{},
		partRels:   map[string]map[string]Relationship{},
		docRels:    map[string]Relationship{},
	}
	for i, p := range paras {
		p.Index = i
		p.Text = strings.TrimSpace(p.Text)
		doc.paragraphs[i] = p
	}
	return doc
}

// FromTexts is FromParagraphs for plain text lines.
func FromTexts(name string, texts ...string) *Document {
	paras := make([]Paragraph, len(texts))
	for i, t := range texts {
		paras[i] = Paragraph{Text: t}
	}
	return FromParagraphs(name, paras)
}

// Close releases the underlying file when the document was opened from disk.
func (d *Document) Close() error {
	if d.closer == nil {
		return nil
	}
	err := d.closer.Close()
	d.closer = nil
	return err
}

// Name returns the document's file name.
func (d *Document) Name() string {
	return d.name
}

// Len returns the number of body paragraphs.
func (d *Document) Len() int {
	return len(d.paragraphs)
}

// Text returns the trimmed text of paragraph i.
func (d *Document) Text(i int) string {
	return d.paragraphs[i].Text
}

// Paragraph returns paragraph i.
func (d *Document) Paragraph(i int) Paragraph {
	return d.paragraphs[i]
}

// Paragraphs returns all body paragraphs in document order.
func (d *Document) Paragraphs() []Paragraph {
	return d.paragraphs
}

// PartRelationship looks id up in the relationship table owned by part.
func (d *Document) PartRelationship(part, id string) (Relationship, bool) {
	rels, ok := d.partRels[part]
	if !ok {
		return Relationship{}, false
	}
	rel, ok := rels[id]
	return rel, ok
}

// DocumentRelationship looks id up in the main document's relationship table.
func (d *Document) DocumentRelationship(id string) (Relationship, bool) {
	rel, ok := d.docRels[id]
	return rel, ok
}

// ReadPart returns the bytes of a package part.
func (d *Document) ReadPart(name string) ([]byte, error) {
	name = strings.TrimPrefix(name, "/")
	if d.media != nil && strings.HasPrefix(name, docx.MEDIA_FOLDER) {
		if data := d.media(strings.TrimPrefix(name, docx.MEDIA_FOLDER)); data != nil {
			return data, nil
		}
	}
	f := d.files[name]
	if f == nil {
		return nil, fmt.Errorf("part %s: %w", name, os.ErrNotExist)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open part %s: %w", name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read part %s: %w", name, err)
	}
	return data, nil
}

// ContentType returns the declared content type of a part, or "".
func (d *Document) ContentType(name string) string {
	return d.types.lookup(strings.TrimPrefix(name, "/"))
}

// ResolveTarget turns a relationship target into a package part name,
// relative to the part that owns the relationship.
func ResolveTarget(ownerPart, target string) string {
	if strings.HasPrefix(target, "/") {
		return path.Clean(strings.TrimPrefix(target, "/"))
	}
	return path.Clean(path.Join(path.Dir(ownerPart), target))
}

func (d *Document) loadRelationships() error {
	for name := range d.files {
		if !strings.HasSuffix(name, ".rels") || path.Base(path.Dir(name)) != "_rels" {
			continue
		}
		owner := path.Join(path.Dir(path.Dir(name)), strings.TrimSuffix(path.Base(name), ".rels"))
		data, err := d.ReadPart(name)
		if err != nil {
			return err
		}
		var table struct {
			Rels []Relationship `xml:"Relationship"`
		}
		if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&table); err != nil {
			return fmt.Errorf("parse relationships %s: %w", name, err)
		}
		rels := make(map[string]Relationship, len(table.Rels))
		for _, rel := range table.Rels {
			rels[rel.ID] = rel
		}
		d.partRels[owner] = rels
	}
	return nil
}

func paragraphText(p *docx.Paragraph) string {
	var buf strings.Builder
	for _, child := range p.Children {
		switch c := child.(type) {
		case *docx.Run:
			writeRunText(&buf, c)
		case *docx.Hyperlink:
			writeRunText(&buf, &c.Run)
		}
	}
	return strings.TrimSpace(buf.String())
}

func writeRunText(buf *strings.Builder, run *docx.Run) {
	for _, rc := range run.Children {
		switch x := rc.(type) {
		case *docx.Text:
			buf.WriteString(x.Text)
		case *docx.Tab:
			buf.WriteByte('\t')
		case *docx.BarterRabbet:
			buf.WriteByte('\n')
		}
	}
}
