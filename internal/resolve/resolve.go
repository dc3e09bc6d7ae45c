// Package resolve turns the picture references in a paragraph's markup into
// the raw bytes and file extension of each embedded resource.
package resolve

import (
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/dgallion1/examseg/internal/docmodel"
)

// Package is the view of a compound document the resolver needs.
type Package interface {
	PartRelationship(part, id string) (docmodel.Relationship, bool)
	DocumentRelationship(id string) (docmodel.Relationship, bool)
	ReadPart(name string) ([]byte, error)
	ContentType(name string) string
}

// Resource is one resolved embedded resource.
type Resource struct {
	RelID       string
	PartName    string
	ContentType string
	Ext         string
	Data        []byte
}

// Stats counts resolution outcomes across the lifetime of a Resolver.
type Stats struct {
	Resolved   int `json:"resolved"`
	Skipped    int `json:"skipped"`
	Duplicates int `json:"duplicates"`
}

var extByContentType = map[string]string{
	"image/jpeg":  ".jpg",
	"image/jpg":   ".jpg",
	"image/png":   ".png",
	"image/gif":   ".gif",
	"image/bmp":   ".bmp",
	"image/tiff":  ".tiff",
	"image/x-emf": ".emf",
	"image/x-wmf": ".wmf",
}

const defaultExt = ".png"

// ExtensionFor derives a file extension from a part name, falling back to
// the declared content type and then to ".png".
func ExtensionFor(partName, contentType string) string {
	if ext := strings.ToLower(path.Ext(partName)); ext != "" && ext != "." {
		return ext
	}
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ext, ok := extByContentType[ct]; ok {
		return ext
	}
	return defaultExt
}

// Resolver resolves paragraph resources against one document. It is not
// safe for concurrent use.
type Resolver struct {
	pkg        Package
	strategies []Strategy
	log        *slog.Logger
	stats      Stats
}

// New creates a Resolver using DefaultStrategies.
func New(pkg Package, log *slog.Logger) *Resolver {
	return NewWithStrategies(pkg, DefaultStrategies(), log)
}

// NewWithStrategies creates a Resolver with an explicit strategy order.
func NewWithStrategies(pkg Package, strategies []Strategy, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Resolver{pkg: pkg, strategies: strategies, log: log}
}

// Stats returns the counters accumulated so far.
func (r *Resolver) Stats() Stats {
	return r.stats
}

// References lists the identifiers a paragraph refers to, in order: the first
// identifier each run yields under the first matching strategy, then every
// identifier found by a sweep of the whole paragraph. Repeats are kept.
func (r *Resolver) References(m docmodel.Markup) []string {
	var ids []string
	for _, run := range m.Runs {
		for _, s := range r.strategies {
			if found := s.Find(m, run); len(found) > 0 {
				ids = append(ids, found[0])
				break
			}
		}
	}
	ids = append(ids, RegexSweep{}.Find(m, m.XML)...)
	return ids
}

// Resolve returns every distinct resource the paragraph embeds. Failures
// are logged and skipped.
func (r *Resolver) Resolve(p docmodel.Paragraph) []Resource {
	if len(p.Markup.XML) == 0 {
		return nil
	}

	var out []Resource
	seenID := make(map[string]bool)
	seenData := make(map[uint64]bool)
	for _, id := range r.References(p.Markup) {
		if seenID[id] {
			continue
		}
		seenID[id] = true

		res, ok := r.resolveOne(p, id)
		if !ok {
			r.stats.Skipped++
			continue
		}
		fp := xxhash.Sum64(res.Data)
		if seenData[fp] {
			r.stats.Duplicates++
			continue
		}
		seenData[fp] = true
		r.stats.Resolved++
		out = append(out, res)
	}
	return out
}

func (r *Resolver) resolveOne(p docmodel.Paragraph, id string) (Resource, bool) {
	owner := p.Markup.Part
	rel, ok := r.pkg.PartRelationship(owner, id)
	if !ok {
		owner = docmodel.DocumentPart
		rel, ok = r.pkg.DocumentRelationship(id)
	}
	if !ok {
		r.log.Warn("resource reference not found", "paragraph", p.Index, "rel_id", id)
		return Resource{}, false
	}
	if rel.External() {
		r.log.Debug("skipping external relationship", "paragraph", p.Index, "rel_id", id, "target", rel.Target)
		return Resource{}, false
	}

	name := docmodel.ResolveTarget(owner, rel.Target)
	ct := r.pkg.ContentType(name)
	if !isImage(rel.Type, ct) {
		r.log.Debug("skipping non-image relationship", "paragraph", p.Index, "rel_id", id, "type", rel.Type)
		return Resource{}, false
	}

	data, err := r.pkg.ReadPart(name)
	if err != nil {
		r.log.Warn("resource part unreadable", "paragraph", p.Index, "rel_id", id, "part", name, "error", err)
		return Resource{}, false
	}
	if len(data) == 0 {
		r.log.Warn("resource part empty", "paragraph", p.Index, "rel_id", id, "part", name)
		return Resource{}, false
	}

	return Resource{
		RelID:       id,
		PartName:    name,
		ContentType: ct,
		Ext:         ExtensionFor(name, ct),
		Data:        data,
	}, true
}

func isImage(relType, contentType string) bool {
	return strings.HasSuffix(relType, "/image") || strings.HasPrefix(contentType, "image/")
}
