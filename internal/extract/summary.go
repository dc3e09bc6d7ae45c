package extract

import (
	"fmt"
	"strings"
)

const summaryRule = "============================================================"

// Summary renders a human-readable report of an extraction result.
func Summary(r Result) string {
	var b strings.Builder
	if !r.Success {
		msg := r.Error
		if msg == "" {
			msg = "unknown error"
		}
		fmt.Fprintf(&b, "extraction failed: %s\n", msg)
		return b.String()
	}

	b.WriteString(summaryRule + "\n")
	if r.Document != "" {
		fmt.Fprintf(&b, "document:  %s\n", r.Document)
	}
	fmt.Fprintf(&b, "questions: %d\n", r.TotalQuestions)
	fmt.Fprintf(&b, "images:    %d\n", r.TotalImages)
	fmt.Fprintf(&b, "sections:  %d\n", len(r.Sections))

	if len(r.Sections) > 0 {
		b.WriteString("\nsections:\n")
		for _, s := range r.Sections {
			fmt.Fprintf(&b, "  %s: %d questions, %d images\n", truncateRunes(s.Name, 15), s.Count, s.ImageCount)
		}
	}

	fmt.Fprintf(&b, "\nsuccess rate: %.1f%%\n", r.Validation.SuccessRate)
	if len(r.Validation.Issues) > 0 {
		fmt.Fprintf(&b, "\n%d issues:\n", len(r.Validation.Issues))
		for _, issue := range r.Validation.Issues {
			fmt.Fprintf(&b, "  - %s\n", issue)
		}
	} else {
		b.WriteString("\nno issues\n")
	}
	b.WriteString(summaryRule + "\n")
	return b.String()
}
