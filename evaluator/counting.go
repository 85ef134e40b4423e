package evaluator

import (
	"context"
	"sync/atomic"

	"codebundle-score/rules"
)

// Counting records how many times the wrapped evaluator was invoked.
type Counting struct {
	next  rules.TitleEvaluator
	calls atomic.Int64
}

func NewCounting(next rules.TitleEvaluator) *Counting {
	return &Counting{next: next}
}

func (c *Counting) Name() string { return c.next.Name() }

func (c *Counting) EvaluateTitle(ctx context.Context, req *rules.TitleRequest) (*rules.TitleVerdict, error) {
	c.calls.Add(1)
	return c.next.EvaluateTitle(ctx, req)
}

// Calls returns the number of invocations so far.
func (c *Counting) Calls() int { return int(c.calls.Load()) }
