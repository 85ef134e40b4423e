// Package evaluator implements title-quality evaluators: a deterministic
// heuristic, an HTTP LLM endpoint and the Amp CLI, plus the wrappers that
// add reference lookups, call counting, retries and fallback.
package evaluator

import (
	"context"
	"strings"

	"codebundle-score/rules"
)

// Heuristic scores titles without any external call. It starts at 1 and
// awards a point each for length, a leading action verb, an object, specific
// vocabulary and a location variable.
type Heuristic struct{}

func (Heuristic) Name() string { return "heuristic" }

func (Heuristic) EvaluateTitle(_ context.Context, req *rules.TitleRequest) (*rules.TitleVerdict, error) {
	return ScoreTitle(req.Title), nil
}

// ScoreTitle is the heuristic scoring function.
func ScoreTitle(title string) *rules.TitleVerdict {
	words := rules.TitleWords(title)
	score := 1
	var missing []string

	if len(strings.Fields(title)) >= 3 {
		score++
	} else {
		missing = append(missing, "too short")
	}

	if len(words) > 0 && rules.ActionVerbs[words[0]] {
		score++
	} else {
		missing = append(missing, "no leading action verb")
	}

	specific := 0
	hasObject := false
	for i, w := range words {
		if rules.GenericWords[w] || rules.ActionVerbs[w] {
			continue
		}
		if i > 0 {
			hasObject = true
		}
		if len(w) >= 3 {
			specific++
		}
	}
	if hasObject {
		score++
	} else {
		missing = append(missing, "no object")
	}
	if specific >= 2 {
		score++
	} else {
		missing = append(missing, "little specific detail")
	}

	where := strings.Contains(title, "${")
	if where {
		score++
	} else {
		missing = append(missing, "no 'where' variable")
	}

	score = min(score, 5)
	if !where {
		score = min(score, 3)
	}

	reasoning := "clear, specific and located"
	if len(missing) > 0 {
		reasoning = strings.Join(missing, "; ")
	}
	return &rules.TitleVerdict{Score: score, Reasoning: reasoning, Source: "heuristic"}
}
