package model

import (
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// ExplanationStep is one numbered step of a worked explanation
type ExplanationStep struct {
	Number  int    `json:"step_number"`
	Action  string `json:"action"`
	Detail  string `json:"explanation"`
	Formula string `json:"formula_used,omitempty"`
}

// Explanation is the structured output of the Explain stage
type Explanation struct {
	Overview       string            `json:"problem_overview"`
	Approach       string            `json:"approach"`
	Steps          []ExplanationStep `json:"steps"`
	FinalAnswer    string            `json:"final_answer"`
	KeyConcepts    []string          `json:"key_concepts,omitempty"`
	ExamTips       []string          `json:"exam_tips,omitempty"`
	CommonMistakes []string          `json:"common_mistakes_to_avoid,omitempty"`
	Alternatives   []string          `json:"alternative_approaches,omitempty"`
}

// Validate checks the explain output satisfies its contract
func (e *Explanation) Validate() error {
	if e.FinalAnswer == "" {
		return goerr.New("explanation has no final answer")
	}
	if len(e.Steps) == 0 {
		return goerr.New("explanation has no steps")
	}
	return nil
}

// Markdown renders the explanation as a student-facing document
func (e *Explanation) Markdown() string {
	var b strings.Builder

	if e.Overview != "" {
		b.WriteString("## Problem\n\n")
		b.WriteString(e.Overview)
		b.WriteString("\n\n")
	}
	if e.Approach != "" {
		b.WriteString("## Approach\n\n")
		b.WriteString(e.Approach)
		b.WriteString("\n\n")
	}

	b.WriteString("## Solution\n\n")
	for _, step := range e.Steps {
		fmt.Fprintf(&b, "**Step %d: %s**\n\n%s\n\n", step.Number, step.Action, step.Detail)
		if step.Formula != "" {
			fmt.Fprintf(&b, "> %s\n\n", step.Formula)
		}
	}

	fmt.Fprintf(&b, "## Answer\n\n**%s**\n", e.FinalAnswer)

	writeList := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		b.WriteString("\n## " + title + "\n\n")
		for _, item := range items {
			b.WriteString("- " + item + "\n")
		}
	}

	writeList("Key Concepts", e.KeyConcepts)
	writeList("Exam Tips", e.ExamTips)
	writeList("Common Mistakes", e.CommonMistakes)
	writeList("Alternative Approaches", e.Alternatives)

	return b.String()
}
