package rules

import (
	"context"
	"errors"
	"strings"
	"testing"

	"codebundle-score/codebundle"
	"codebundle-score/logger"
)

type stubEvaluator struct {
	verdict *TitleVerdict
	err     error
	calls   int
}

func (s *stubEvaluator) Name() string { return "stub" }

func (s *stubEvaluator) EvaluateTitle(_ context.Context, _ *TitleRequest) (*TitleVerdict, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	v := *s.verdict
	return &v, nil
}

type memCache map[string]*CacheEntry

func (m memCache) Lookup(hash string) (*CacheEntry, bool, error) {
	e, ok := m[hash]
	return e, ok, nil
}

type brokenCache struct{ err error }

func (b brokenCache) Lookup(string) (*CacheEntry, bool, error) { return nil, false, b.err }
func (b brokenCache) Store(*CacheEntry) error { return nil }

func (m memCache) Store(e *CacheEntry) error {
	m[e.ContentHash] = e
	return nil
}

const fullSettings = "*** Settings ***\n" +
	"Documentation    Triage.\n" +
	"Metadata    Author    a\n" +
	"Metadata    Display Name    b\n" +
	"Metadata    Supports    k8s\n" +
	"Suite Setup    Suite Initialization\n"

func kinds(fs []Finding) string {
	var out []string
	for _, f := range fs {
		out = append(out, string(f.Kind))
	}
	return strings.Join(out, ",")
}

func TestCheckFile_RunbookChecklistOrder(t *testing.T) {
	src := fullSettings + "*** Tasks ***\n" +
		"Check Pods\n" +
		"    RW.Core.Add Issue    severity=3    title=static\n"
	f := codebundle.Parse("runbook.robot", []byte(src))
	eval := &stubEvaluator{verdict: &TitleVerdict{Score: 2, Reasoning: "vague", SuggestedTitle: "Check Failing Pods in Namespace `${NAMESPACE}`"}}
	e := NewEngine(DefaultConfig(), eval, nil, logger.Nop())

	got, err := e.CheckFile(context.Background(), f)
	if err != nil {
		t.Fatalf("CheckFile: %v", err)
	}
	want := "title_quality,missing_access_tag,static_issue,missing_metadata"
	if kinds(got) != want {
		t.Errorf("kinds = %s, want %s", kinds(got), want)
	}
	if got[0].Severity != SeverityWarning {
		t.Errorf("title severity = %s, want warning", got[0].Severity)
	}
	if got[0].Hint.SuggestedTitle == "" {
		t.Error("title finding should carry the evaluator suggestion")
	}
	if got[1].Hint.AccessTag != codebundle.AccessReadOnly {
		t.Errorf("access hint = %q", got[1].Hint.AccessTag)
	}
	if got[0].LineRange != [2]int{8, 8} {
		t.Errorf("title LineRange = %v, want [8 8]", got[0].LineRange)
	}
}

func TestCheckFile_SLIWithoutMetric(t *testing.T) {
	src := fullSettings + "*** Tasks ***\n" +
		"Measure Pod Restarts in Namespace ${NAMESPACE}\n" +
		"    [Documentation]    Counts restarts.\n" +
		"    [Tags]    access:readonly\n" +
		"    Log    nothing pushed\n"
	f := codebundle.Parse("sli.robot", []byte(src))
	e := NewEngine(DefaultConfig(), &stubEvaluator{verdict: &TitleVerdict{Score: 5}}, nil, logger.Nop())

	got, err := e.CheckFile(context.Background(), f)
	if err != nil {
		t.Fatalf("CheckFile: %v", err)
	}
	if kinds(got) != "no_metric_pushed" {
		t.Fatalf("kinds = %s", kinds(got))
	}
	if got[0].Severity != SeverityError {
		t.Errorf("severity = %s, want error", got[0].Severity)
	}
}

func TestCheckFile_SyntheticTaskOnlyParseError(t *testing.T) {
	src := "*** Tasks ***\nBroken\n    FOR    ${x}    IN    @{y}\n        Log    ${x}\n"
	f := codebundle.Parse("runbook.robot", []byte(src))
	eval := &stubEvaluator{verdict: &TitleVerdict{Score: 1}}
	e := NewEngine(DefaultConfig(), eval, nil, logger.Nop())

	got, err := e.CheckFile(context.Background(), f)
	if err != nil {
		t.Fatalf("CheckFile: %v", err)
	}
	if got[0].Kind != KindParseError || got[0].Severity != SeverityError {
		t.Errorf("first finding = %v", got[0])
	}
	if eval.calls != 0 {
		t.Errorf("evaluator called %d times for a synthetic task", eval.calls)
	}
}

func TestCheckFile_FileLevelChecks(t *testing.T) {
	var b strings.Builder
	b.WriteString("*** Tasks ***\n")
	for i := 0; i < 11; i++ {
		b.WriteString("Task ${X}\n    RW.Core.Push Metric    1\n")
	}
	f := codebundle.Parse("sli.robot", []byte(b.String()))
	e := NewEngine(Config{MinTitleScore: 1}, &stubEvaluator{verdict: &TitleVerdict{Score: 5}}, nil, logger.Nop())

	got, err := e.CheckFile(context.Background(), f)
	if err != nil {
		t.Fatalf("CheckFile: %v", err)
	}
	var fileLevel []Finding
	for _, fd := range got {
		if fd.TaskIndex == FileLevel {
			fileLevel = append(fileLevel, fd)
		}
	}
	// documentation + 3 metadata keys + suite setup + task ceiling
	if len(fileLevel) != 6 {
		t.Fatalf("got %d file-level findings, want 6: %v", len(fileLevel), fileLevel)
	}
	if !strings.Contains(fileLevel[5].Message, "11 tasks") {
		t.Errorf("last file-level finding = %q", fileLevel[5].Message)
	}
}

func TestCheckTitle_CacheSkipsEvaluator(t *testing.T) {
	src := "*** Tasks ***\nCheck Stuff\n    RW.Core.Push Metric    1\n"
	cache := memCache{}
	eval := &stubEvaluator{verdict: &TitleVerdict{Score: 2, Reasoning: "vague"}}

	first := NewEngine(DefaultConfig(), eval, cache, logger.Nop())
	a, err := first.CheckFile(context.Background(), codebundle.Parse("sli.robot", []byte(src)))
	if err != nil {
		t.Fatal(err)
	}

	second := NewEngine(DefaultConfig(), eval, cache, logger.Nop())
	shifted := "\n\n" + src
	b, err := second.CheckFile(context.Background(), codebundle.Parse("sli.robot", []byte(shifted)))
	if err != nil {
		t.Fatal(err)
	}

	if eval.calls != 1 {
		t.Errorf("evaluator calls = %d, want 1", eval.calls)
	}
	if second.Stats.CacheHits != 1 || second.Stats.Evaluations != 0 {
		t.Errorf("second run stats = %+v", second.Stats)
	}
	if a[0].Message != b[0].Message {
		t.Errorf("cached message %q != %q", b[0].Message, a[0].Message)
	}
	if b[0].LineRange != [2]int{4, 4} {
		t.Errorf("rebased LineRange = %v, want [4 4]", b[0].LineRange)
	}
}

func TestCheckTitle_FallbackVerdictNotCached(t *testing.T) {
	src := "*** Tasks ***\nCheck Stuff\n    Log    x\n"
	cache := memCache{}
	eval := &stubEvaluator{verdict: &TitleVerdict{Score: 2, Source: "heuristic", Fallback: true}}

	e := NewEngine(DefaultConfig(), eval, cache, logger.Nop())
	got, err := e.CheckFile(context.Background(), codebundle.Parse("runbook.robot", []byte(src)))
	if err != nil {
		t.Fatal(err)
	}
	if len(cache) != 0 {
		t.Errorf("fallback verdict was cached: %d entries", len(cache))
	}
	if len(got) == 0 || got[0].Kind != KindTitleQuality {
		t.Errorf("fallback verdict should still produce findings, got %s", kinds(got))
	}
}

func TestCheckTitle_CachedFindings(t *testing.T) {
	src := "*** Tasks ***\nCheck Stuff\n    RW.Core.Push Metric    1\n"
	f := codebundle.Parse("sli.robot", []byte(src))
	hash := f.Tasks[0].ContentHash()

	tests := []struct {
		name      string
		threshold int
		want      string
	}{
		{"same threshold reuses stored findings", 4, "stored message"},
		{"changed threshold rebuilds from verdict", 3, "title scored 2/5: vague"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := memCache{hash: {
				ContentHash: hash,
				Verdict:     &TitleVerdict{Score: 2, Reasoning: "vague", SuggestedTitle: "Better"},
				Findings: []Finding{{
					Kind:     KindTitleQuality,
					Severity: SeverityWarning,
					Message:  "stored message",
				}},
				MinTitleScore: 4,
			}}
			eval := &stubEvaluator{err: errors.New("must not be called")}
			cfg := DefaultConfig()
			cfg.MinTitleScore = tt.threshold

			e := NewEngine(cfg, eval, cache, logger.Nop())
			got, err := e.CheckFile(context.Background(), codebundle.Parse("sli.robot", []byte(src)))
			if err != nil {
				t.Fatal(err)
			}
			if eval.calls != 0 {
				t.Errorf("evaluator calls = %d, want 0", eval.calls)
			}
			if got[0].Message != tt.want {
				t.Errorf("message = %q, want %q", got[0].Message, tt.want)
			}
			if got[0].LineRange != [2]int{2, 2} {
				t.Errorf("LineRange = %v, want [2 2]", got[0].LineRange)
			}
			if got[0].Hint.SuggestedTitle != "Better" {
				t.Errorf("hint = %q", got[0].Hint.SuggestedTitle)
			}
		})
	}
}

func TestCheckTitle_CacheLookupErrorAborts(t *testing.T) {
	src := "*** Tasks ***\nCheck Stuff\n    Log    x\n"
	bad := errors.New("undecodable row")
	eval := &stubEvaluator{verdict: &TitleVerdict{Score: 4}}
	e := NewEngine(DefaultConfig(), eval, brokenCache{err: bad}, logger.Nop())

	_, err := e.CheckFile(context.Background(), codebundle.Parse("runbook.robot", []byte(src)))
	if !errors.Is(err, bad) {
		t.Errorf("err = %v, want %v", err, bad)
	}
	if eval.calls != 0 {
		t.Errorf("evaluator called after cache error")
	}
}

func TestCheckFile_EvaluatorErrorPropagates(t *testing.T) {
	src := "*** Tasks ***\nCheck\n    Log    x\n"
	boom := errors.New("endpoint down")
	e := NewEngine(DefaultConfig(), &stubEvaluator{err: boom}, nil, logger.Nop())
	_, err := e.CheckFile(context.Background(), codebundle.Parse("runbook.robot", []byte(src)))
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped %v", err, boom)
	}
}

func TestCapWithoutWhere(t *testing.T) {
	v := CapWithoutWhere("Check Pods", &TitleVerdict{Score: 5, Reasoning: "good"})
	if v.Score != 3 || !strings.Contains(v.Reasoning, "Where") {
		t.Errorf("got %+v", v)
	}
	v = CapWithoutWhere("Check Pods in `${NS}`", &TitleVerdict{Score: 5})
	if v.Score != 5 {
		t.Errorf("score with where variable = %d, want 5", v.Score)
	}
}

func TestInferAccessTag(t *testing.T) {
	tests := []struct {
		name string
		task codebundle.Task
		want string
	}{
		{"read only", codebundle.Task{Title: "Get Pod Logs", Body: []string{"    RW.CLI.Run Cli    cmd=kubectl logs"}}, codebundle.AccessReadOnly},
		{"title verb", codebundle.Task{Title: "Restart Deployment"}, codebundle.AccessReadWrite},
		{"body verb", codebundle.Task{Title: "Fix It", Body: []string{"    RW.CLI.Run Cli    cmd=kubectl delete pod x"}}, codebundle.AccessReadWrite},
		{"framework line ignored", codebundle.Task{Title: "Report", Body: []string{"    RW.Core.Add Issue    title=restart needed"}}, codebundle.AccessReadOnly},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InferAccessTag(&tt.task); got != tt.want {
				t.Errorf("InferAccessTag = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTitleVerdict_Validate(t *testing.T) {
	if err := (&TitleVerdict{Score: 0}).Validate(); err == nil {
		t.Error("score 0 should be invalid")
	}
	if err := (&TitleVerdict{Score: 3, AccessTag: "access:write"}).Validate(); err == nil {
		t.Error("unknown access tag should be invalid")
	}
	if err := (&TitleVerdict{Score: 5, AccessTag: "access:readonly"}).Validate(); err != nil {
		t.Errorf("valid verdict: %v", err)
	}
}
