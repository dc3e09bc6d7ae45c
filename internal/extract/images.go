package extract

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/dgallion1/examseg/internal/imagestore"
	"github.com/dgallion1/examseg/internal/resolve"
)

// Role is the classification of an extracted image.
type Role string

const (
	RoleMaterial Role = "material"
	RoleOption   Role = "option"
)

const contextLimit = 100

// ClassifyRole returns RoleOption when text opens an answer option and the
// question number has already been seen; otherwise RoleMaterial.
func ClassifyRole(text string, afterNumber bool) Role {
	if afterNumber && IsOptionText(text) {
		return RoleOption
	}
	return RoleMaterial
}

// ImageExtract is one persisted image attributed to a question.
type ImageExtract struct {
	ID                 string `json:"id"`
	OwningQuestionID   string `json:"owning_question_id"`
	Filename           string `json:"filename"`
	ContextText        string `json:"context_text"`
	ParagraphIndex     int    `json:"paragraph_index"`
	PositionInQuestion int    `json:"position_in_question"`
	Role               Role   `json:"image_type"`
	Ext                string `json:"ext"`
	Size               int    `json:"size"`
}

// ImageStats counts image outcomes across the lifetime of an ImageExtractor.
type ImageStats struct {
	Saved       int `json:"saved"`
	Resolved    int `json:"resolved"`
	Skipped     int `json:"skipped"`
	Duplicates  int `json:"duplicates"`
	WriteFailed int `json:"write_failed"`
}

// ResolvingDocument is a Document whose paragraphs can be resolved to
// embedded resources.
type ResolvingDocument interface {
	Document
	resolve.Package
}

// ImageExtractor pulls the images of a question out of a document and
// persists them. It keeps per-document counters and is not safe for
// concurrent use.
type ImageExtractor struct {
	store imagestore.Store
	log   *slog.Logger
	stats ImageStats

	doc      ResolvingDocument
	resolver *resolve.Resolver
}

// NewImageExtractor returns an extractor writing through store.
func NewImageExtractor(store imagestore.Store, log *slog.Logger) *ImageExtractor {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ImageExtractor{store: store, log: log}
}

// Stats returns the counters accumulated so far.
func (x *ImageExtractor) Stats() ImageStats {
	s := x.stats
	if x.resolver != nil {
		s = s.add(x.resolver.Stats())
	}
	return s
}

func (s ImageStats) add(rs resolve.Stats) ImageStats {
	s.Resolved += rs.Resolved
	s.Skipped += rs.Skipped
	s.Duplicates += rs.Duplicates
	return s
}

// ExtractImages resolves, classifies and saves every image in the
// question's content paragraphs. owningID is recorded on each image.
// Images whose write fails are logged and left out.
func (x *ImageExtractor) ExtractImages(doc ResolvingDocument, q QuestionExtract, owningID string) []ImageExtract {
	r := x.resolverFor(doc)

	var out []ImageExtract
	position := 0
	afterNumber := q.NumberIndex == nil
	for _, idx := range paragraphIndices(q, doc.Len()) {
		if !afterNumber && idx >= *q.NumberIndex {
			afterNumber = true
		}
		p := doc.Paragraph(idx)
		role := ClassifyRole(p.Text, afterNumber)

		for _, res := range r.Resolve(p) {
			name := imageFilename(q.Number, position, res.Ext)
			if _, err := x.store.Save(name, res.Data); err != nil {
				x.stats.WriteFailed++
				x.log.Warn("image write failed",
					"question", q.Number, "paragraph", idx, "rel_id", res.RelID, "error", err)
				continue
			}
			x.stats.Saved++
			out = append(out, ImageExtract{
				ID:                 uuid.NewString(),
				OwningQuestionID:   owningID,
				Filename:           name,
				ContextText:        truncateRunes(p.Text, contextLimit),
				ParagraphIndex:     idx,
				PositionInQuestion: position,
				Role:               role,
				Ext:                res.Ext,
				Size:               len(res.Data),
			})
			position++
		}
	}
	return out
}

func (x *ImageExtractor) resolverFor(doc ResolvingDocument) *resolve.Resolver {
	if x.resolver != nil && x.doc == doc {
		return x.resolver
	}
	if x.resolver != nil {
		x.stats = x.stats.add(x.resolver.Stats())
	}
	x.doc = doc
	x.resolver = resolve.New(doc, x.log)
	return x.resolver
}

// paragraphIndices lists the paragraphs to scan: the content paragraphs
// when present, else the parsed paragraph range, else the whole document.
func paragraphIndices(q QuestionExtract, n int) []int {
	seen := make(map[int]bool)
	var idx []int
	for _, p := range q.Content.Paragraphs {
		if !seen[p.ParagraphIndex] {
			seen[p.ParagraphIndex] = true
			idx = append(idx, p.ParagraphIndex)
		}
	}
	if len(idx) == 0 {
		start, end, ok := parseRange(q.ParagraphRange)
		if !ok {
			start, end = 0, n
		}
		for i := start; i < end; i++ {
			idx = append(idx, i)
		}
	}

	out := idx[:0]
	for _, i := range idx {
		if i >= 0 && i < n {
			out = append(out, i)
		}
	}
	sort.Ints(out)
	return out
}

func parseRange(s string) (int, int, bool) {
	a, b, ok := strings.Cut(s, "-")
	if !ok {
		return 0, 0, false
	}
	start, err := strconv.Atoi(strings.TrimSpace(a))
	if err != nil {
		return 0, 0, false
	}
	end, err := strconv.Atoi(strings.TrimSpace(b))
	if err != nil {
		return 0, 0, false
	}
	return start, end, true
}

func imageFilename(number, position int, ext string) string {
	if ext == "" {
		ext = ".png"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("question_%d_%d_%s%s", number, position, uuid.NewString()[:8], ext)
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
