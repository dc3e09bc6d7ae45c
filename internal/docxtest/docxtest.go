// Package docxtest builds small synthetic .docx packages for tests.
package docxtest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const documentHeader = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"
            xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"
            xmlns:wp="http://schemas.openxmlformats.org/drawingml/2006/wordprocessingDrawing"
            xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"
            xmlns:pic="http://schemas.openxmlformats.org/drawingml/2006/picture"
            xmlns:v="urn:schemas-microsoft-com:vml"
            xmlns:o="urn:schemas-microsoft-com:office:office">
  <w:body>
`

const documentFooter = `  </w:body>
</w:document>`

// ImageRel is the relationship type for embedded pictures.
const ImageRel = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/image"

type rel struct {
	id, typ, target, mode string
}

// Builder accumulates body paragraphs, relationships and parts.
type Builder struct {
	paras []string
	rels  []rel
	parts map[string][]byte
	extra map[string]string // extra part name -> content type override
}

// New returns an empty document builder.
func New() *Builder {
	return &Builder{
		parts: make(map[string][]byte),
		extra: make(map[string]string),
	}
}

// Text appends a paragraph holding a single text run.
func (b *Builder) Text(text string) *Builder {
	b.paras = append(b.paras, "<w:p>"+textRun(text)+"</w:p>")
	return b
}

// Picture appends a paragraph with optional text followed by a DrawingML
// picture run referencing relID.
func (b *Builder) Picture(text, relID string) *Builder {
	b.paras = append(b.paras, "<w:p>"+textRun(text)+DrawingRun(relID)+"</w:p>")
	return b
}

// VML appends a paragraph with optional text followed by a legacy VML
// image-data run referencing relID.
func (b *Builder) VML(text, relID string) *Builder {
	b.paras = append(b.paras, "<w:p>"+textRun(text)+VMLRun(relID)+"</w:p>")
	return b
}

// Raw appends a verbatim <w:p> element.
func (b *Builder) Raw(paragraphXML string) *Builder {
	b.paras = append(b.paras, paragraphXML)
	return b
}

// Media stores data at word/<target> and registers an image relationship.
func (b *Builder) Media(relID, target string, data []byte) *Builder {
	b.rels = append(b.rels, rel{id: relID, typ: ImageRel, target: target})
	b.parts["word/"+target] = data
	return b
}

// Link registers an external hyperlink relationship.
func (b *Builder) Link(relID, url string) *Builder {
	b.rels = append(b.rels, rel{
		id:     relID,
		typ:    "http://schemas.openxmlformats.org/officeDocument/2006/relationships/hyperlink",
		target: url,
		mode:   "External",
	})
	return b
}

// Part stores an arbitrary part with a content type override.
func (b *Builder) Part(name, contentType string, data []byte) *Builder {
	b.parts[name] = data
	if contentType != "" {
		b.extra[name] = contentType
	}
	return b
}

// Bytes renders the package.
func (b *Builder) Bytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	add := func(name string, data []byte) {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatalf("creating zip entry %s: %v", name, err)
		}
		if _, err := fw.Write(data); err != nil {
			t.Fatalf("writing zip entry %s: %v", name, err)
		}
	}

	add("[Content_Types].xml", []byte(b.contentTypes()))
	add("word/document.xml", []byte(documentHeader+strings.Join(b.paras, "\n")+"\n"+documentFooter))
	add("word/_rels/document.xml.rels", []byte(b.relationships()))
	for name, data := range b.parts {
		add(name, data)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("closing zip writer: %v", err)
	}
	return buf.Bytes()
}

// Write renders the package into dir and returns its path.
func (b *Builder) Write(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, b.Bytes(t), 0o644); err != nil {
		t.Fatalf("writing docx: %v", err)
	}
	return p
}

func (b *Builder) relationships() string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	sb.WriteString(`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">`)
	for _, r := range b.rels {
		fmt.Fprintf(&sb, `<Relationship Id="%s" Type="%s" Target="%s"`, r.id, r.typ, r.target)
		if r.mode != "" {
			fmt.Fprintf(&sb, ` TargetMode="%s"`, r.mode)
		}
		sb.WriteString("/>")
	}
	sb.WriteString(`</Relationships>`)
	return sb.String()
}

func (b *Builder) contentTypes() string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	sb.WriteString(`<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">`)
	sb.WriteString(`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>`)
	sb.WriteString(`<Default Extension="xml" ContentType="application/xml"/>`)
	sb.WriteString(`<Default Extension="png" ContentType="image/png"/>`)
	sb.WriteString(`<Default Extension="jpeg" ContentType="image/jpeg"/>`)
	sb.WriteString(`<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>`)
	for name, ct := range b.extra {
		fmt.Fprintf(&sb, `<Override PartName="/%s" ContentType="%s"/>`, name, ct)
	}
	sb.WriteString(`</Types>`)
	return sb.String()
}

func textRun(text string) string {
	if text == "" {
		return ""
	}
	var esc bytes.Buffer
	_ = xml.EscapeText(&esc, []byte(text))
	return `<w:r><w:t xml:space="preserve">` + esc.String() + `</w:t></w:r>`
}

// DrawingRun returns a run holding an inline DrawingML picture.
func DrawingRun(relID string) string {
	return `<w:r><w:drawing><wp:inline><wp:extent cx="952500" cy="952500"/><wp:docPr id="1" name="Picture 1"/>` +
		`<a:graphic><a:graphicData uri="http://schemas.openxmlformats.org/drawingml/2006/picture">` +
		`<pic:pic><pic:blipFill><a:blip r:embed="` + relID + `"/></pic:blipFill></pic:pic>` +
		`</a:graphicData></a:graphic></wp:inline></w:drawing></w:r>`
}

// VMLRun returns a run holding a legacy VML shape with image data.
func VMLRun(relID string) string {
	return `<w:r><w:pict><v:shape id="_x0000_i1025" style="width:50pt;height:50pt">` +
		`<v:imagedata r:id="` + relID + `" o:title=""/></v:shape></w:pict></w:r>`
}

// PNG encodes a solid w×h image; distinct shades give distinct payloads.
func PNG(t *testing.T, w, h int, shade uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: shade, G: 150, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding test PNG: %v", err)
	}
	return buf.Bytes()
}
