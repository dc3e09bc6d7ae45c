package docmodel

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
)

const contentTypesPart = "[Content_Types].xml"

// Markup is the raw XML of one paragraph as it appears in its owning part.
type Markup struct {
	Part  string     // owning package part
	XML   []byte     // the <w:p> element, verbatim
	Runs  [][]byte   // outermost <w:r> elements inside XML, verbatim
	Scope []xml.Attr // xmlns declarations inherited from enclosing elements
}

// Scoped returns XML wrapped in an element that re-declares the inherited
// namespaces, so it can be decoded on its own with prefixes resolved.
func (m Markup) Scoped(fragment []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(fragment) + 64*len(m.Scope))
	buf.WriteString("<scope")
	for _, a := range m.Scope {
		buf.WriteByte(' ')
		if a.Name.Space != "" {
			buf.WriteString(a.Name.Space)
			buf.WriteByte(':')
		}
		buf.WriteString(a.Name.Local)
		buf.WriteString(`="`)
		xml.EscapeText(&buf, []byte(a.Value))
		buf.WriteByte('"')
	}
	buf.WriteByte('>')
	buf.Write(fragment)
	buf.WriteString("</scope>")
	return buf.Bytes()
}

// scanMarkup walks a document part once and slices out every body-level
// paragraph together with its runs. Nested paragraphs (tables, text boxes)
// are part of their enclosing element and are not reported on their own.
func scanMarkup(data []byte, part string) ([]Markup, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false

	var (
		out       []Markup
		scope     []xml.Attr
		depth     int
		bodyDepth = -1
		paraStart = int64(-1)
		paraDepth int
		runStart  = int64(-1)
		runDepth  int
		runs      [][]byte
	)

	for {
		before := dec.InputOffset()
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if bodyDepth < 0 {
				scope = appendNamespaces(scope, t.Attr)
				if t.Name.Local == "body" {
					bodyDepth = depth
				}
				continue
			}
			if paraStart < 0 {
				if t.Name.Local == "p" && depth == bodyDepth+1 {
					paraStart = before
					paraDepth = depth
					runs = nil
				}
				continue
			}
			if runStart < 0 && t.Name.Local == "r" {
				runStart = before
				runDepth = depth
			}

		case xml.EndElement:
			if runStart >= 0 && depth == runDepth {
				runs = append(runs, data[runStart:dec.InputOffset()])
				runStart = -1
			}
			if paraStart >= 0 && depth == paraDepth {
				out = append(out, Markup{
					Part:  part,
					XML:   data[paraStart:dec.InputOffset()],
					Runs:  runs,
					Scope: scope,
				})
				paraStart = -1
			}
			if depth == bodyDepth {
				bodyDepth = -2
			}
			depth--
		}
	}

	if bodyDepth == -1 {
		return nil, fmt.Errorf("%s: %w", part, ErrNoBody)
	}
	return out, nil
}

func appendNamespaces(scope, attrs []xml.Attr) []xml.Attr {
	for _, a := range attrs {
		if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
			scope = append(scope, a)
		}
	}
	return scope
}

// imageConstructRe matches the opening tag of a drawing, picture or VML
// image-data element under any namespace prefix.
var imageConstructRe = regexp.MustCompile(`<(?:[A-Za-z_][\w.-]*:)?(?:drawing|pic|imagedata)[\s/>]`)

func countResourceRuns(runs [][]byte) int {
	n := 0
	for _, r := range runs {
		if imageConstructRe.Match(r) {
			n++
		}
	}
	return n
}

type contentTypes struct {
	Defaults []struct {
		Extension   string `xml:"Extension,attr"`
		ContentType string `xml:"ContentType,attr"`
	} `xml:"Default"`
	Overrides []struct {
		PartName    string `xml:"PartName,attr"`
		ContentType string `xml:"ContentType,attr"`
	} `xml:"Override"`
}

func (c contentTypes) lookup(name string) string {
	for _, o := range c.Overrides {
		if strings.EqualFold(strings.TrimPrefix(o.PartName, "/"), name) {
			return o.ContentType
		}
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
	if ext == "" {
		return ""
	}
	for _, d := range c.Defaults {
		if strings.EqualFold(d.Extension, ext) {
			return d.ContentType
		}
	}
	return ""
}
