package segment

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind is the structural role of a paragraph.
type Kind int

const (
	Content Kind = iota
	SectionHeading
	GroupHeading
	QuestionNumber
)

func (k Kind) String() string {
	switch k {
	case SectionHeading:
		return "section"
	case GroupHeading:
		return "group"
	case QuestionNumber:
		return "question"
	default:
		return "content"
	}
}

var (
	sectionRe = regexp.MustCompile(`^[一二三四五六七八九十]{1,3}、`)
	groupRe   = regexp.MustCompile(`^[（(][一二三四五六七八九十]+[）)]$`)
)

// IsSectionHeading reports whether text opens a section, e.g. "一、常识判断".
func IsSectionHeading(text string) bool {
	return sectionRe.MatchString(strings.TrimSpace(text))
}

// IsGroupHeading reports whether text is a bare group marker, e.g. "（一）".
func IsGroupHeading(text string) bool {
	return groupRe.MatchString(strings.TrimSpace(text))
}

// QuestionNumberOf parses a line whose whole trimmed text is a decimal
// integer. ASCII and full-width digits are accepted.
func QuestionNumberOf(text string) (int, bool) {
	t := strings.TrimSpace(text)
	if t == "" {
		return 0, false
	}
	var ascii strings.Builder
	ascii.Grow(len(t))
	for _, r := range t {
		switch {
		case r >= '0' && r <= '9':
			ascii.WriteRune(r)
		case r >= '０' && r <= '９':
			ascii.WriteRune('0' + (r - '０'))
		default:
			return 0, false
		}
	}
	n, err := strconv.Atoi(ascii.String())
	if err != nil {
		return 0, false
	}
	return n, true
}

// Classify returns the structural role of a paragraph's text.
func Classify(text string) Kind {
	switch {
	case IsSectionHeading(text):
		return SectionHeading
	case IsGroupHeading(text):
		return GroupHeading
	}
	if _, ok := QuestionNumberOf(text); ok {
		return QuestionNumber
	}
	return Content
}
