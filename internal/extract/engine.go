// Package extract turns a segmented document into per-question content,
// attributes embedded images to questions and validates the result.
package extract

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dgallion1/examseg/internal/docmodel"
	"github.com/dgallion1/examseg/internal/imagestore"
	"github.com/dgallion1/examseg/internal/segment"
)

// FatalError reports that the source document could not be read at all.
type FatalError struct {
	Path string
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// SectionSummary describes one section of the result.
type SectionSummary struct {
	Name            string `json:"name"`
	Count           int    `json:"count"`
	QuestionNumbers []int  `json:"questions"`
	ImageCount      int    `json:"total_images"`
}

// QuestionExtract is one question of the result.
type QuestionExtract struct {
	Number         int             `json:"number"`
	SectionName    string          `json:"section"`
	GroupID        int             `json:"group_id"`
	NumberIndex    *int            `json:"number_index,omitempty"`
	Content        QuestionContent `json:"content"`
	ParagraphRange string          `json:"paragraph_range"`
}

// Result is the outcome of extracting one document. On a fatal error
// Success is false and no questions are returned.
type Result struct {
	Success        bool              `json:"success"`
	Error          string            `json:"error,omitempty"`
	Document       string            `json:"document"`
	TotalQuestions int               `json:"total_questions"`
	TotalImages    int               `json:"total_images"`
	Sections       []SectionSummary  `json:"sections"`
	Questions      []QuestionExtract `json:"questions"`
	Validation     ValidationReport  `json:"validation"`
	DurationMs     int64             `json:"duration_ms"`
}

// Question returns the question with the given number, first match in
// document order.
func (r Result) Question(number int) (QuestionExtract, bool) {
	for _, q := range r.Questions {
		if q.Number == number {
			return q, true
		}
	}
	return QuestionExtract{}, false
}

// Engine extracts documents one at a time. Independent engines share
// nothing but the image store, so one engine per goroutine is safe.
type Engine struct {
	baselines Baselines
	images    *ImageExtractor
	log       *slog.Logger
}

// NewEngine returns an engine saving images through store.
func NewEngine(store imagestore.Store, baselines Baselines, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		baselines: baselines,
		images:    NewImageExtractor(store, log),
		log:       log,
	}
}

// ImageStats returns the image counters of this engine.
func (e *Engine) ImageStats() ImageStats {
	return e.images.Stats()
}

// ExtractFile opens the document at path and extracts it. A document that
// cannot be opened yields an unsuccessful result and a *FatalError.
func (e *Engine) ExtractFile(path string) (Result, error) {
	doc, err := docmodel.Open(path)
	if err != nil {
		fe := &FatalError{Path: path, Err: err}
		e.log.Error("document unreadable", "path", path, "error", err)
		return Failed(fe), fe
	}
	defer doc.Close()
	return e.Extract(doc), nil
}

// Failed returns the result reported for a fatal error.
func Failed(err error) Result {
	return Result{
		Success:   false,
		Error:     err.Error(),
		Sections:  []SectionSummary{},
		Questions: []QuestionExtract{},
		Validation: ValidationReport{
			Issues: []string{"提取过程错误: " + err.Error()},
		},
	}
}

// Extract segments doc and assembles every question's content.
func (e *Engine) Extract(doc Document) Result {
	start := time.Now()
	name := doc.Name()
	log := e.log.With("document", name)

	seg := segment.Segment(doc, log)
	log.Info("segmented document", "sections", len(seg.Sections), "groups", len(seg.Groups), "questions", len(seg.Questions))

	full, own := NewAssembler(doc).Content(seg)

	res := Result{
		Success:   true,
		Document:  name,
		Sections:  make([]SectionSummary, len(seg.Sections)),
		Questions: make([]QuestionExtract, 0, len(seg.Questions)),
	}
	for i, sec := range seg.Sections {
		res.Sections[i] = SectionSummary{Name: sec.Name, QuestionNumbers: []int{}}
	}

	numbers := make([]int, 0, len(seg.Questions))
	for _, q := range seg.Questions {
		sec := seg.Section(q)
		numberLine := q.NumberLine
		res.Questions = append(res.Questions, QuestionExtract{
			Number:         q.Number,
			SectionName:    sec.Name,
			GroupID:        q.GroupID,
			NumberIndex:    &numberLine,
			Content:        full[q.NumberLine],
			ParagraphRange: fmt.Sprintf("%d-%d", q.Start, q.End),
		})
		numbers = append(numbers, q.Number)

		// Shared preface images are counted once, with the group's first
		// question, because own ranges never overlap.
		ownImages := own[q.NumberLine].TotalImages
		res.TotalImages += ownImages
		s := &res.Sections[q.Section]
		s.Count++
		s.QuestionNumbers = append(s.QuestionNumbers, q.Number)
		s.ImageCount += ownImages
	}
	res.TotalQuestions = len(res.Questions)

	res.Validation = Validate(numbers, res.TotalQuestions, res.TotalImages, e.baselines)
	res.DurationMs = time.Since(start).Milliseconds()
	for _, issue := range res.Validation.Issues {
		log.Warn("structural anomaly", "issue", issue)
	}
	return res
}

// ExtractImages saves the images of one question and returns their records.
func (e *Engine) ExtractImages(doc ResolvingDocument, q QuestionExtract, owningID string) []ImageExtract {
	return e.images.ExtractImages(doc, q, owningID)
}
