// Package segment splits a paragraph sequence into sections, shared-material
// groups and numbered questions.
package segment

import (
	"io"
	"log/slog"
	"sort"
)

// TextSource is an indexable sequence of trimmed paragraph texts.
type TextSource interface {
	Len() int
	Text(i int) string
}

// Result is the boundary structure of one document.
type Result struct {
	Sections  []Section
	Groups    []Group
	Questions []Question
}

// FindSections matches the section-heading pattern against every paragraph.
// Each section runs to the next heading; the last one runs to the end.
// Paragraphs before the first heading belong to no section.
func FindSections(src TextSource) []Section {
	var out []Section
	n := src.Len()
	for i := 0; i < n; i++ {
		t := src.Text(i)
		if !IsSectionHeading(t) {
			continue
		}
		if len(out) > 0 {
			out[len(out)-1].End = i
		}
		out = append(out, Section{Name: t, Start: i, End: n})
	}
	return out
}

// Segment runs FindSections followed by one Scanner pass per section.
func Segment(src TextSource, log *slog.Logger) Result {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	res := Result{Sections: FindSections(src)}
	if len(res.Sections) == 0 {
		log.Info("no section headings found", "paragraphs", src.Len())
		return res
	}
	if first := res.Sections[0].Start; first > 0 {
		log.Debug("paragraphs before first section ignored", "count", first)
	}

	collect := func(events []Event) {
		for _, ev := range events {
			switch ev.Kind {
			case GroupClosed:
				res.Groups = append(res.Groups, ev.Group)
			case QuestionClosed:
				res.Questions = append(res.Questions, ev.Question)
			}
		}
	}

	sc := NewScanner()
	for _, sec := range res.Sections {
		before := len(res.Questions)
		collect(sc.Begin(sec))
		for i := sec.Start + 1; i < sec.End; i++ {
			collect(sc.Feed(i, src.Text(i)))
		}
		collect(sc.Finalize())
		if len(res.Questions) == before {
			log.Info("section has no questions", "section", sec.Name, "start", sec.Start, "end", sec.End)
		}
	}

	// Groups close after the questions they contain; report them in
	// document order.
	sort.SliceStable(res.Groups, func(i, j int) bool {
		return res.Groups[i].Start < res.Groups[j].Start
	})
	return res
}

// Section returns the section a question belongs to.
func (r Result) Section(q Question) Section {
	return r.Sections[q.Section]
}

// Group returns the group a question belongs to.
func (r Result) Group(q Question) (Group, bool) {
	for _, g := range r.Groups {
		if g.Section == q.Section && g.ID == q.GroupID {
			return g, true
		}
	}
	return Group{}, false
}

// GroupQuestions returns the questions of g ordered by number line.
func (r Result) GroupQuestions(g Group) []Question {
	var out []Question
	for _, q := range r.Questions {
		if q.Section == g.Section && q.GroupID == g.ID {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NumberLine < out[j].NumberLine })
	return out
}
