// Package llm talks to the language models that write and grade answers.
package llm

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/prompts"
)

// maxContextChars bounds one retrieved fragment inside a prompt.
const maxContextChars = 2000

const answerTemplate = `You are a QA automation engineer who is an expert at debugging.
Use the following fragments of historical logs and previous fixes to analyze the new error the user provides.
If the context does not contain the solution, say that you are not sure, but suggest concrete investigation steps.

CONTEXT FROM PREVIOUS ERRORS:
{{.context}}

NEW ERROR TO ANALYZE:
{{.question}}

SUGGESTED SOLUTION AND ANALYSIS:
`

const judgeTemplate = `You grade answers produced by a debugging assistant.

Score two metrics between 0 and 1:
- faithfulness: how much of the answer is supported by the context (1 = every claim is grounded).
- relevancy: how directly the answer addresses the question (1 = fully on point).

QUESTION:
{{.question}}

CONTEXT:
{{.context}}

ANSWER:
{{.answer}}

Respond with JSON only, exactly in this form: {"faithfulness": 0.0, "relevancy": 0.0}
`

var (
	answerPrompt = prompts.NewPromptTemplate(answerTemplate, []string{"context", "question"})
	judgePrompt  = prompts.NewPromptTemplate(judgeTemplate, []string{"question", "context", "answer"})
)

// BuildAnswerPrompt renders the QA-engineer prompt for question over the
// retrieved fragments, best first.
func BuildAnswerPrompt(question string, fragments []string) (string, error) {
	return answerPrompt.Format(map[string]any{
		"context":  joinFragments(fragments),
		"question": strings.TrimSpace(question),
	})
}

// BuildJudgePrompt renders the grading prompt.
func BuildJudgePrompt(question, answer string, fragments []string) (string, error) {
	return judgePrompt.Format(map[string]any{
		"question": strings.TrimSpace(question),
		"context":  joinFragments(fragments),
		"answer":   strings.TrimSpace(answer),
	})
}

func joinFragments(fragments []string) string {
	if len(fragments) == 0 {
		return "(no related incidents were found)"
	}
	var b strings.Builder
	for i, f := range fragments {
		if i > 0 {
			b.WriteString("\n\n")
		}
		f = strings.TrimSpace(f)
		if len(f) > maxContextChars {
			cut := maxContextChars
			for cut > 0 && !utf8.RuneStart(f[cut]) {
				cut--
			}
			f = f[:cut] + "..."
		}
		fmt.Fprintf(&b, "[%d] %s", i+1, f)
	}
	return b.String()
}
