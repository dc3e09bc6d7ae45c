package resolve

import (
	"bytes"
	"encoding/xml"
	"regexp"

	"github.com/dgallion1/examseg/internal/docmodel"
)

const (
	nsDrawingML     = "http://schemas.openxmlformats.org/drawingml/2006/main"
	nsVML           = "urn:schemas-microsoft-com:vml"
	nsRelationships = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"
)

// Strategy finds resource reference identifiers in a markup fragment.
// Identifiers are returned in document order; nil means the strategy found
// nothing and the next one should be tried.
type Strategy interface {
	Name() string
	Find(m docmodel.Markup, fragment []byte) []string
}

// DefaultStrategies returns the lookup order used by New.
func DefaultStrategies() []Strategy {
	return []Strategy{
		qualifiedAttr{name: "blip", space: nsDrawingML, local: "blip", attr: "embed"},
		qualifiedAttr{name: "imagedata", space: nsVML, local: "imagedata", attr: "id"},
		localAttr{name: "blip-local", local: "blip", attr: "embed"},
		localAttr{name: "imagedata-local", local: "imagedata", attr: "id"},
		RegexSweep{},
	}
}

// qualifiedAttr matches element and attribute by namespace URI, with the
// prefixes resolved against the declarations the paragraph inherits.
type qualifiedAttr struct {
	name, space, local, attr string
}

func (s qualifiedAttr) Name() string { return s.name }

func (s qualifiedAttr) Find(m docmodel.Markup, fragment []byte) []string {
	dec := xml.NewDecoder(bytes.NewReader(m.Scoped(fragment)))
	dec.Strict = false
	var ids []string
	for {
		tok, err := dec.Token()
		if err != nil {
			return ids
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Space != s.space || se.Name.Local != s.local {
			continue
		}
		for _, a := range se.Attr {
			if a.Name.Space == nsRelationships && a.Name.Local == s.attr && a.Value != "" {
				ids = append(ids, a.Value)
			}
		}
	}
}

// localAttr ignores namespaces entirely and matches on local names only.
type localAttr struct {
	name, local, attr string
}

func (s localAttr) Name() string { return s.name }

func (s localAttr) Find(_ docmodel.Markup, fragment []byte) []string {
	dec := xml.NewDecoder(bytes.NewReader(fragment))
	dec.Strict = false
	var ids []string
	for {
		tok, err := dec.RawToken()
		if err != nil {
			return ids
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != s.local {
			continue
		}
		for _, a := range se.Attr {
			if a.Name.Local == s.attr && a.Value != "" {
				ids = append(ids, a.Value)
			}
		}
	}
}

var refAttrRe = regexp.MustCompile(`r:(?:embed|id)="([^"]+)"`)

// RegexSweep scans the raw text for reference attributes. It is the last
// resort and also the paragraph-wide sweep.
type RegexSweep struct{}

func (RegexSweep) Name() string { return "regex" }

func (RegexSweep) Find(_ docmodel.Markup, fragment []byte) []string {
	var ids []string
	for _, m := range refAttrRe.FindAllSubmatch(fragment, -1) {
		ids = append(ids, string(m[1]))
	}
	return ids
}
