package segment

// Section is a half-open paragraph range headed by a section marker line.
type Section struct {
	Name  string `json:"name"`
	Start int    `json:"start_index"`
	End   int    `json:"end_index"`
}

// Group is a sub-range of a section whose questions share preface material.
// ID 0 is the implicit group that precedes any explicit group heading.
type Group struct {
	ID      int `json:"id"`
	Section int `json:"section"`
	Start   int `json:"start_index"`
	End     int `json:"end_index"`
}

// Question is one numbered question's paragraph range.
type Question struct {
	Number     int `json:"number"`
	GroupID    int `json:"group_id"`
	Section    int `json:"section"`
	NumberLine int `json:"number_line_index"`
	Start      int `json:"start_index"`
	End        int `json:"end_index"`
}

// EventKind identifies what a scanner event reports.
type EventKind int

const (
	// GroupClosed reports a group whose range is now final.
	GroupClosed EventKind = iota + 1
	// QuestionClosed reports a question whose range is now final.
	QuestionClosed
)

// Event is emitted by Scanner when a boundary becomes final.
type Event struct {
	Kind     EventKind
	Group    Group
	Question Question
}

// Scanner is the boundary state machine. It is fed one section at a time,
// paragraph by paragraph in document order. Group ids keep counting across
// sections; every other piece of state is reset by Begin.
type Scanner struct {
	lastGroupID int

	section      Section
	sectionIndex int
	started      bool

	groupID      int
	groupStart   int
	inPreface    bool
	lastBoundary int
	open         *Question
}

// NewScanner returns a scanner with the group counter at zero.
func NewScanner() *Scanner {
	return &Scanner{sectionIndex: -1}
}

// Begin starts a new section. The heading paragraph at sec.Start is the
// marker itself; feeding starts at sec.Start+1. Any section still open is
// finalized first and its closing events returned.
func (s *Scanner) Begin(sec Section) []Event {
	var events []Event
	if s.started {
		events = s.Finalize()
	}
	s.section = sec
	s.sectionIndex++
	s.started = true
	s.groupID = 0
	s.groupStart = min(sec.Start+1, sec.End)
	s.inPreface = false
	s.lastBoundary = s.groupStart
	s.open = nil
	return events
}

// Feed advances the machine over paragraph i with the given text.
func (s *Scanner) Feed(i int, text string) []Event {
	if !s.started {
		return nil
	}
	switch Classify(text) {
	case GroupHeading:
		var events []Event
		if q, ok := s.closeQuestion(); ok {
			events = append(events, q)
		}
		if g, ok := s.closeGroup(i, true); ok {
			events = append(events, g)
		}
		s.lastGroupID++
		s.groupID = s.lastGroupID
		s.groupStart = i
		s.inPreface = true
		s.lastBoundary = i
		return events

	case QuestionNumber:
		n, _ := QuestionNumberOf(text)
		var events []Event
		start := s.groupStart
		if q, ok := s.closeQuestion(); ok {
			events = append(events, q)
			start = q.Question.End
		}
		s.open = &Question{
			Number:     n,
			GroupID:    s.groupID,
			Section:    s.sectionIndex,
			NumberLine: i,
			Start:      start,
		}
		s.lastBoundary = i
		s.inPreface = false
		return events

	default:
		if !s.inPreface {
			s.lastBoundary = i + 1
		}
		return nil
	}
}

// Finalize closes the open question and group at the end of the current
// section.
func (s *Scanner) Finalize() []Event {
	if !s.started {
		return nil
	}
	var events []Event
	if q, ok := s.closeQuestion(); ok {
		events = append(events, q)
	}
	if g, ok := s.closeGroup(s.section.End, false); ok {
		events = append(events, g)
	}
	s.started = false
	return events
}

// LastGroupID returns the highest group id assigned so far.
func (s *Scanner) LastGroupID() int {
	return s.lastGroupID
}

func (s *Scanner) closeQuestion() (Event, bool) {
	if s.open == nil {
		return Event{}, false
	}
	q := *s.open
	q.End = max(s.lastBoundary, q.NumberLine+1)
	s.open = nil
	return Event{Kind: QuestionClosed, Question: q}, true
}

func (s *Scanner) closeGroup(end int, byHeading bool) (Event, bool) {
	g := Group{ID: s.groupID, Section: s.sectionIndex, Start: s.groupStart, End: end}
	// An explicit heading right after the section heading leaves the
	// implicit group empty; it is dropped.
	if byHeading && s.groupID == 0 && g.Start >= g.End {
		return Event{}, false
	}
	return Event{Kind: GroupClosed, Group: g}, true
}
