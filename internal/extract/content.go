package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/examseg/internal/docmodel"
	"github.com/dgallion1/examseg/internal/segment"
)

// Document is the paragraph view the extractor works on.
type Document interface {
	Name() string
	Len() int
	Text(i int) string
	Paragraph(i int) docmodel.Paragraph
}

// ContentParagraph is one paragraph of a question's content.
type ContentParagraph struct {
	ParagraphIndex int    `json:"paragraph_index"`
	Text           string `json:"text"`
	ImageCount     int    `json:"images_count"`
	TextLength     int    `json:"text_length"`
}

// QuestionContent is the ordered content of a question with its tallies.
// TotalImages counts every image; OptionImages is the subset sitting in
// answer-option paragraphs.
type QuestionContent struct {
	Paragraphs      []ContentParagraph `json:"paragraphs"`
	ParagraphCount  int                `json:"paragraph_count"`
	TotalImages     int                `json:"total_images"`
	OptionImages    int                `json:"option_images"`
	TotalTextLength int                `json:"total_text_length"`
}

// Concat returns c followed by other.
func (c QuestionContent) Concat(other QuestionContent) QuestionContent {
	paras := make([]ContentParagraph, 0, len(c.Paragraphs)+len(other.Paragraphs))
	paras = append(paras, c.Paragraphs...)
	paras = append(paras, other.Paragraphs...)
	return QuestionContent{
		Paragraphs:      paras,
		ParagraphCount:  c.ParagraphCount + other.ParagraphCount,
		TotalImages:     c.TotalImages + other.TotalImages,
		OptionImages:    c.OptionImages + other.OptionImages,
		TotalTextLength: c.TotalTextLength + other.TotalTextLength,
	}
}

// Texts returns the paragraph texts in order.
func (c QuestionContent) Texts() []string {
	out := make([]string, len(c.Paragraphs))
	for i, p := range c.Paragraphs {
		out[i] = p.Text
	}
	return out
}

var optionRe = regexp.MustCompile(`^[A-DＡ-Ｄ][\s\t]*[、\.．\)）,，]`)

// IsOptionText reports whether text opens an answer option, e.g. "A、" or "Ｂ．".
func IsOptionText(text string) bool {
	return optionRe.MatchString(strings.TrimSpace(text))
}

// Assembler builds question content from a document.
type Assembler struct {
	doc Document
}

// NewAssembler returns an Assembler over doc.
func NewAssembler(doc Document) *Assembler {
	return &Assembler{doc: doc}
}

// Assemble collects [start, end). Section headings, group headings and
// question-number lines hold no question text and are kept only when they
// carry images. numberLine is the question's number line, or -1 when
// unknown; option paragraphs only count from it onward.
func (a *Assembler) Assemble(start, end, numberLine int) QuestionContent {
	var c QuestionContent
	start = max(start, 0)
	end = min(end, a.doc.Len())
	for i := start; i < end; i++ {
		p := a.doc.Paragraph(i)
		if p.Text == "" && !p.HasResources() {
			continue
		}
		if segment.Classify(p.Text) != segment.Content && !p.HasResources() {
			continue
		}
		n := utf8.RuneCountInString(p.Text)
		c.Paragraphs = append(c.Paragraphs, ContentParagraph{
			ParagraphIndex: i,
			Text:           p.Text,
			ImageCount:     p.ResourceCount,
			TextLength:     n,
		})
		c.TotalImages += p.ResourceCount
		if ClassifyRole(p.Text, numberLine < 0 || i >= numberLine) == RoleOption {
			c.OptionImages += p.ResourceCount
		}
		c.TotalTextLength += n
	}
	c.ParagraphCount = len(c.Paragraphs)
	return c
}

// groupContent holds the per-question content of one group.
type groupContent struct {
	first   int // number line of the first question
	preface QuestionContent
}

// Content returns the content of every question in res, keyed by number
// line, together with each question's own-range content. Non-first
// questions of a group get the group preface prepended.
func (a *Assembler) Content(res segment.Result) (full, own map[int]QuestionContent) {
	full = make(map[int]QuestionContent, len(res.Questions))
	own = make(map[int]QuestionContent, len(res.Questions))

	groups := make(map[[2]int]groupContent)
	for _, g := range res.Groups {
		qs := res.GroupQuestions(g)
		if len(qs) == 0 {
			continue
		}
		first := qs[0]
		gc := groupContent{first: first.NumberLine}
		if g.Start < first.NumberLine {
			gc.preface = a.Assemble(g.Start, first.NumberLine, first.NumberLine)
		}
		groups[[2]int{g.Section, g.ID}] = gc
	}

	for _, q := range res.Questions {
		c := a.Assemble(q.Start, q.End, q.NumberLine)
		own[q.NumberLine] = c
		gc, ok := groups[[2]int{q.Section, q.GroupID}]
		if ok && q.NumberLine != gc.first {
			full[q.NumberLine] = gc.preface.Concat(c)
		} else {
			full[q.NumberLine] = c
		}
	}
	return full, own
}
