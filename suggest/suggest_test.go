package suggest

import (
	"context"
	"testing"

	"codebundle-score/codebundle"
	"codebundle-score/logger"
	"codebundle-score/rules"
)

func TestRewriteTitle(t *testing.T) {
	suite := codebundle.Suite{ImportedVariables: []string{"CONTEXT", "NAMESPACE"}}
	tests := []struct {
		name    string
		task    codebundle.Task
		hint    string
		want    string
		wantLow bool
	}{
		{
			name: "adds imported variable used in body",
			task: codebundle.Task{Title: "check pods", Body: []string{"    RW.CLI.Run Cli    kubectl get pods -n ${NAMESPACE}"}},
			want: "Check Pods in Namespace `${NAMESPACE}`",
		},
		{
			name: "keeps acronyms",
			task: codebundle.Task{Title: "Inspect ec2 instances", Body: []string{"    Log    ${AWS_REGION}"}},
			want: "Inspect EC2 Instances in AWS Region `${AWS_REGION}`",
		},
		{
			name:    "guesses action",
			task:    codebundle.Task{Title: "Pod Restarts", HasPushMetric: true, Body: []string{"    Log    ${NAMESPACE}"}},
			want:    "Measure Pod Restarts in Namespace `${NAMESPACE}`",
			wantLow: true,
		},
		{
			name: "existing location kept",
			task: codebundle.Task{Title: "Check Pods in `${NAMESPACE}`"},
			want: "Check Pods in `${NAMESPACE}`",
		},
		{
			name: "evaluator hint wins",
			task: codebundle.Task{Title: "Check Pods"},
			hint: "Check Failing Pods in Namespace `${NAMESPACE}`",
			want: "Check Failing Pods in Namespace `${NAMESPACE}`",
		},
		{
			name: "invalid hint ignored",
			task: codebundle.Task{Title: "Check Pods", Body: []string{"    Log    ${CONTEXT}"}},
			hint: "Check    Pods",
			want: "Check Pods in Context `${CONTEXT}`",
		},
		{
			name:    "object from documentation",
			task:    codebundle.Task{Title: "Check", Documentation: "Unhealthy ingress controllers in the cluster", Body: []string{"    Log    ${NAMESPACE}"}},
			want:    "Check Unhealthy Ingress Controllers in Namespace `${NAMESPACE}`",
			wantLow: true,
		},
	}
	s := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, low := s.RewriteTitle(&tt.task, suite, tt.hint)
			if got != tt.want {
				t.Errorf("RewriteTitle = %q, want %q", got, tt.want)
			}
			if low != tt.wantLow {
				t.Errorf("low confidence = %v, want %v", low, tt.wantLow)
			}
		})
	}
}

func TestRewriteTitle_NoVariableIsLowConfidence(t *testing.T) {
	got, low := New().RewriteTitle(&codebundle.Task{Title: "check pods"}, codebundle.Suite{}, "")
	if got != "Check Pods" || !low {
		t.Errorf("got %q low=%v", got, low)
	}
}

type fixedEvaluator struct{ score int }

func (f fixedEvaluator) Name() string { return "fixed" }
func (f fixedEvaluator) EvaluateTitle(context.Context, *rules.TitleRequest) (*rules.TitleVerdict, error) {
	return &rules.TitleVerdict{Score: f.score}, nil
}

func TestApply_EditsStayInsideFindingSpan(t *testing.T) {
	src := "*** Tasks ***\n" +
		"check pods    # comment\n" +
		"    [Documentation]    Lists pods.\n" +
		"    RW.Core.Add Issue    title=${NAMESPACE}\n" +
		"Restart things\n" +
		"    [Tags]    k8s\n" +
		"    ...    pods\n" +
		"    RW.Core.Add Issue    title=${x}\n"
	f := codebundle.Parse("runbook.robot", []byte(src))
	e := rules.NewEngine(rules.DefaultConfig(), fixedEvaluator{score: 2}, nil, logger.Nop())
	findings, err := e.CheckFile(context.Background(), f)
	if err != nil {
		t.Fatal(err)
	}
	New().Apply(f, findings)

	var edits []*codebundle.Edit
	for _, fd := range findings {
		if !fd.Kind.AutoFixable() {
			if fd.Edit != nil || fd.SuggestedFix != nil {
				t.Errorf("%s should have no fix", fd.Kind)
			}
			continue
		}
		if fd.Edit == nil {
			continue
		}
		if fd.Edit.StartLine < fd.LineRange[0] || fd.Edit.EndLine > fd.LineRange[1] {
			t.Errorf("%s edit [%d,%d] outside span %v", fd.Kind, fd.Edit.StartLine, fd.Edit.EndLine, fd.LineRange)
		}
		edits = append(edits, fd.Edit)
	}
	if len(edits) != 4 {
		t.Fatalf("got %d edits, want 4", len(edits))
	}

	title := edits[0]
	if title.Replacement[0] != "Check Pods in Namespace `${NAMESPACE}`    # comment" {
		t.Errorf("title replacement = %q", title.Replacement[0])
	}
	insert := edits[1]
	if insert.StartLine != 3 || len(insert.Replacement) != 2 || insert.Replacement[0] != "    [Tags]    access:readonly" {
		t.Errorf("insert edit = %+v", insert)
	}
	appendTag := edits[3]
	if appendTag.StartLine != 7 || appendTag.Replacement[0] != "    ...    pods    access:read-write" {
		t.Errorf("append edit = %+v", appendTag)
	}
}
