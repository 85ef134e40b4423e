package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"codebundle-score/codebundle"
)

// TitleRequest is the input of a title-quality evaluation.
type TitleRequest struct {
	Title             string
	Type              codebundle.TaskType
	Documentation     string
	Tags              []string
	ImportedVariables []string
	Body              []string
}

// TitleVerdict is an evaluator's judgement of a title.
type TitleVerdict struct {
	Score          int    `json:"score" validate:"min=1,max=5"`
	Reasoning      string `json:"reasoning"`
	SuggestedTitle string `json:"suggested_title,omitempty" validate:"omitempty,max=200"`
	AccessTag      string `json:"access_tag,omitempty" validate:"omitempty,oneof=access:readonly access:read-write"`
	Source         string `json:"source,omitempty"`
	// Fallback marks a verdict produced after the configured evaluator
	// failed. Such verdicts are never cached.
	Fallback       bool   `json:"-"`
}

var validate = validator.New()

// Validate checks the verdict's invariants.
func (v *TitleVerdict) Validate() error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("invalid title verdict: %w", err)
	}
	return nil
}

// TitleEvaluator scores task titles. Implementations may call external
// services; the engine only invokes them on report cache misses.
type TitleEvaluator interface {
	Name() string
	EvaluateTitle(ctx context.Context, req *TitleRequest) (*TitleVerdict, error)
}

// CacheEntry is the persisted result of the title check for one task text.
// Finding line ranges are relative to the task's title line. Findings are
// only reused while MinTitleScore matches the engine's threshold.
type CacheEntry struct {
	ContentHash   string        `json:"content_hash"`
	Verdict       *TitleVerdict `json:"verdict"`
	Findings      []Finding     `json:"findings"`
	MinTitleScore int           `json:"min_title_score,omitempty"`
	ComputedAt    time.Time     `json:"computed_at"`
}

// FindingCache stores title-check results by task content hash. Lookup
// reports a CACHE_CORRUPTION error for entries that exist but cannot be
// decoded; a missing entry is (nil, false, nil).
type FindingCache interface {
	Lookup(hash string) (*CacheEntry, bool, error)
	Store(entry *CacheEntry) error
}
