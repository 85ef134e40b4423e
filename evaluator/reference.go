package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/afero"

	"codebundle-score/rules"
)

// Reference is a hand-scored title from reference_scores.json.
type Reference struct {
	Task      string `json:"task"`
	Score     int    `json:"score"`
	Reasoning string `json:"reasoning,omitempty"`
}

// LoadReferences reads a reference score file. A missing file yields no
// references.
func LoadReferences(fsys afero.Fs, path string) ([]Reference, error) {
	data, err := afero.ReadFile(fsys, path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read references: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var refs []Reference
	if err := json.Unmarshal(data, &refs); err != nil {
		return nil, fmt.Errorf("parse references %s: %w", path, err)
	}
	return refs, nil
}

// WithReferences answers titles that match a reference entry (ignoring case)
// directly and delegates everything else to next.
func WithReferences(refs []Reference, next rules.TitleEvaluator) rules.TitleEvaluator {
	if len(refs) == 0 {
		return next
	}
	idx := make(map[string]Reference, len(refs))
	for _, r := range refs {
		if r.Score >= 1 && r.Score <= 5 {
			idx[strings.ToLower(strings.TrimSpace(r.Task))] = r
		}
	}
	return &referenceEvaluator{idx: idx, next: next}
}

type referenceEvaluator struct {
	idx  map[string]Reference
	next rules.TitleEvaluator
}

func (r *referenceEvaluator) Name() string { return r.next.Name() }

func (r *referenceEvaluator) EvaluateTitle(ctx context.Context, req *rules.TitleRequest) (*rules.TitleVerdict, error) {
	if ref, ok := r.idx[strings.ToLower(strings.TrimSpace(req.Title))]; ok {
		return &rules.TitleVerdict{Score: ref.Score, Reasoning: ref.Reasoning, Source: "reference"}, nil
	}
	return r.next.EvaluateTitle(ctx, req)
}
