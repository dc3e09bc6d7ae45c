package extract

import (
	"fmt"
	"sort"
)

// Defaults for a full exam paper.
const (
	DefaultExpectedQuestions = 135
	DefaultMinImages         = 3000
	DefaultIssueBudget       = 135
)

// Baselines are the expected counts a document is checked against. A zero
// Questions or MinImages disables that check.
type Baselines struct {
	Questions   int `json:"expected_questions"`
	MinImages   int `json:"expected_min_images"`
	IssueBudget int `json:"issue_budget"`
}

// DefaultBaselines returns the baselines of a full exam paper.
func DefaultBaselines() Baselines {
	return Baselines{
		Questions:   DefaultExpectedQuestions,
		MinImages:   DefaultMinImages,
		IssueBudget: DefaultIssueBudget,
	}
}

// ValidationReport is the advisory outcome of Validate.
type ValidationReport struct {
	TotalQuestions int      `json:"total_questions"`
	TotalImages    int      `json:"total_images"`
	Issues         []string `json:"issues"`
	SuccessRate    float64  `json:"success_rate"`
}

// Validate checks question count, numbering continuity and image count.
// Continuity stops at the first gap or duplicate.
func Validate(numbers []int, totalQuestions, totalImages int, b Baselines) ValidationReport {
	issues := []string{}

	if b.Questions > 0 && totalQuestions != b.Questions {
		issues = append(issues, fmt.Sprintf("题目数量异常: 预期%d道，实际%d道", b.Questions, totalQuestions))
	}

	sorted := append([]int(nil), numbers...)
	sort.Ints(sorted)
	for i := 1; i < len(sorted); i++ {
		if sorted[i] != sorted[i-1]+1 {
			issues = append(issues, fmt.Sprintf("题目编号不连续: %d -> %d", sorted[i-1], sorted[i]))
			break
		}
	}

	if b.MinImages > 0 && totalImages < b.MinImages {
		issues = append(issues, fmt.Sprintf("图片数量偏少: 预期%d+张，实际%d张", b.MinImages, totalImages))
	}

	budget := b.IssueBudget
	if budget <= 0 {
		budget = DefaultIssueBudget
	}
	rate := float64(budget-len(issues)) / float64(budget) * 100
	if rate < 0 {
		rate = 0
	}

	return ValidationReport{
		TotalQuestions: totalQuestions,
		TotalImages:    totalImages,
		Issues:         issues,
		SuccessRate:    rate,
	}
}
