package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"codebundle-score/clierr"
	"codebundle-score/logger"
	"codebundle-score/rules"
)

func TestScoreTitle(t *testing.T) {
	tests := []struct {
		title string
		want  int
	}{
		{"Health", 1},
		{"Check Pods", 3},
		{"Pods", 1},
		{"Check Overutilized EC2 Instances in AWS Region `${AWS_REGION}`", 5},
		{"Restart Deployment ${DEPLOYMENT_NAME} in Namespace ${NAMESPACE}", 5},
		{"Check Overutilized EC2 Instances in AWS Region", 3},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			v := ScoreTitle(tt.title)
			if v.Score != tt.want {
				t.Errorf("ScoreTitle(%q) = %d (%s), want %d", tt.title, v.Score, v.Reasoning, tt.want)
			}
			if err := v.Validate(); err != nil {
				t.Errorf("invalid verdict: %v", err)
			}
		})
	}
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int
		wantErr bool
	}{
		{"plain", `{"score": 4, "reasoning": "ok"}`, 4, false},
		{"fenced", "Here you go:\n```json\n{\"score\": 2, \"reasoning\": \"vague\",}\n```", 2, false},
		{"embedded", `I think {"score": "3", "suggested_title": "Check X"} is fair`, 3, false},
		{"float", `{"score": 4.6}`, 5, false},
		{"out of range", `{"score": 9}`, 0, true},
		{"empty", ``, 0, true},
		{"garbage", `no json here`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ParseVerdict(tt.raw, "test")
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %+v", v)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseVerdict: %v", err)
			}
			if v.Score != tt.want {
				t.Errorf("Score = %d, want %d", v.Score, tt.want)
			}
		})
	}
}

func TestParseVerdict_AccessTagAliases(t *testing.T) {
	v, err := ParseVerdict(`{"score":3,"suggested_access_tag":"ACCESS:READ-WRITE"}`, "test")
	if err != nil {
		t.Fatal(err)
	}
	if v.AccessTag != "access:read-write" {
		t.Errorf("AccessTag = %q", v.AccessTag)
	}
}

func TestHTTPEvaluator_Contract(t *testing.T) {
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotPrompt = body["prompt"]
		_ = json.NewEncoder(w).Encode(map[string]string{
			"explanation": `{"score": 4, "reasoning": "specific", "suggested_title": "Check Pods in ${NS}"}`,
		})
	}))
	defer srv.Close()

	h := NewHTTPEvaluator(HTTPConfig{URL: srv.URL}, nil, logger.Nop())
	v, err := h.EvaluateTitle(context.Background(), &rules.TitleRequest{Title: "Check Pods"})
	if err != nil {
		t.Fatalf("EvaluateTitle: %v", err)
	}
	if v.Score != 4 || v.SuggestedTitle != "Check Pods in ${NS}" || v.Source != "http" {
		t.Errorf("verdict = %+v", v)
	}
	if !strings.Contains(gotPrompt, `"Check Pods"`) {
		t.Errorf("prompt does not mention title: %q", gotPrompt)
	}
}

func TestHTTPEvaluator_StatusClassification(t *testing.T) {
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()
	h := NewHTTPEvaluator(HTTPConfig{URL: srv.URL}, nil, logger.Nop())

	_, err := h.EvaluateTitle(context.Background(), &rules.TitleRequest{Title: "x"})
	if !IsTransient(err) {
		t.Errorf("503 should be transient, got %v", err)
	}

	status = http.StatusBadRequest
	_, err = h.EvaluateTitle(context.Background(), &rules.TitleRequest{Title: "x"})
	if err == nil || IsTransient(err) {
		t.Errorf("400 should be permanent, got %v", err)
	}
}

type flakyEvaluator struct {
	fails int
	err   error
	calls int
}

func (f *flakyEvaluator) Name() string { return "flaky" }

func (f *flakyEvaluator) EvaluateTitle(context.Context, *rules.TitleRequest) (*rules.TitleVerdict, error) {
	f.calls++
	if f.calls <= f.fails {
		return nil, f.err
	}
	return &rules.TitleVerdict{Score: 4, Source: "flaky"}, nil
}

func TestRetrying_RecoversFromTransient(t *testing.T) {
	flaky := &flakyEvaluator{fails: 2, err: &TransientError{Err: errors.New("timeout")}}
	r := NewRetrying(flaky, Heuristic{}, RetryConfig{Attempts: 3, Delay: time.Millisecond}, logger.Nop())

	v, err := r.EvaluateTitle(context.Background(), &rules.TitleRequest{Title: "Check"})
	if err != nil {
		t.Fatalf("EvaluateTitle: %v", err)
	}
	if v.Source != "flaky" || flaky.calls != 3 {
		t.Errorf("source=%s calls=%d", v.Source, flaky.calls)
	}
	if v.Fallback {
		t.Error("recovered verdict marked as fallback")
	}
}

func TestRetrying_FallsBackAfterExhaustion(t *testing.T) {
	flaky := &flakyEvaluator{fails: 10, err: &TransientError{Err: errors.New("503")}}
	r := NewRetrying(flaky, Heuristic{}, RetryConfig{Attempts: 2, Delay: time.Millisecond}, logger.Nop())

	v, err := r.EvaluateTitle(context.Background(), &rules.TitleRequest{Title: "Check Pods"})
	if err != nil {
		t.Fatalf("EvaluateTitle: %v", err)
	}
	if v.Source != "heuristic" {
		t.Errorf("Source = %q, want heuristic", v.Source)
	}
	if !v.Fallback {
		t.Error("fallback verdict not marked")
	}
	if flaky.calls != 2 {
		t.Errorf("calls = %d, want 2", flaky.calls)
	}
}

func TestRetrying_PermanentErrorNoRetry(t *testing.T) {
	flaky := &flakyEvaluator{fails: 10, err: errors.New("bad request")}
	r := NewRetrying(flaky, nil, RetryConfig{Attempts: 5}, logger.Nop())

	_, err := r.EvaluateTitle(context.Background(), &rules.TitleRequest{Title: "x"})
	if !clierr.Is(err, clierr.CollaboratorError) {
		t.Errorf("err = %v, want COLLABORATOR_ERROR", err)
	}
	if flaky.calls != 1 {
		t.Errorf("calls = %d, want 1", flaky.calls)
	}
}

func TestWithReferences(t *testing.T) {
	fsys := afero.NewMemMapFs()
	_ = afero.WriteFile(fsys, "reference_scores.json",
		[]byte(`[{"task":"Check EC2 Health","score":1,"reasoning":"vague"}]`), 0o644)
	refs, err := LoadReferences(fsys, "reference_scores.json")
	if err != nil {
		t.Fatalf("LoadReferences: %v", err)
	}

	counter := NewCounting(Heuristic{})
	ev := WithReferences(refs, counter)

	v, _ := ev.EvaluateTitle(context.Background(), &rules.TitleRequest{Title: "check ec2 health"})
	if v.Source != "reference" || v.Score != 1 {
		t.Errorf("verdict = %+v", v)
	}
	_, _ = ev.EvaluateTitle(context.Background(), &rules.TitleRequest{Title: "Other"})
	if counter.Calls() != 1 {
		t.Errorf("Calls = %d, want 1", counter.Calls())
	}

	missing, err := LoadReferences(fsys, "nope.json")
	if err != nil || missing != nil {
		t.Errorf("missing file: refs=%v err=%v", missing, err)
	}
}
