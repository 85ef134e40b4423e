package evaluator

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"codebundle-score/amp"
	"codebundle-score/rules"
)

// AmpEvaluator asks the Amp agent to score titles. The agent runs with
// every tool rejected.
type AmpEvaluator struct {
	client *amp.Client
	mode   string
	refs   []Reference
}

func NewAmpEvaluator(client *amp.Client, mode string, refs []Reference) *AmpEvaluator {
	if mode == "" {
		mode = "rush"
	}
	return &AmpEvaluator{client: client, mode: mode, refs: refs}
}

func (a *AmpEvaluator) Name() string { return "amp" }

func (a *AmpEvaluator) EvaluateTitle(ctx context.Context, req *rules.TitleRequest) (*rules.TitleVerdict, error) {
	res, err := a.client.Execute(ctx, BuildTitlePrompt(req, a.refs), amp.ExecuteOption{
		Mode:        a.mode,
		Permissions: amp.NoToolPermissions(),
		Labels:      []string{"codebundle-score"},
	})
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || ctx.Err() != nil {
			return nil, err
		}
		return nil, &TransientError{Err: err}
	}
	if res.IsError {
		return nil, fmt.Errorf("amp returned error: %s", res.Error)
	}
	return ParseVerdict(res.Result, a.Name())
}
