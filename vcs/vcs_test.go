package vcs

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"codebundle-score/clierr"
	"codebundle-score/logger"
)

// MockCommander records calls and returns configured responses.
type MockCommander struct {
	Calls     []MockCall
	Responses map[string]MockResponse
}

type MockCall struct {
	Dir  string
	Name string
	Args []string
}

func (c MockCall) String() string { return c.Name + " " + strings.Join(c.Args, " ") }

type MockResponse struct {
	Output string
	Error  error
}

func NewMockCommander() *MockCommander {
	return &MockCommander{Responses: make(map[string]MockResponse)}
}

func (m *MockCommander) Run(ctx context.Context, name string, args ...string) (string, error) {
	return m.RunInDir(ctx, "", name, args...)
}

func (m *MockCommander) RunInDir(_ context.Context, dir, name string, args ...string) (string, error) {
	m.Calls = append(m.Calls, MockCall{Dir: dir, Name: name, Args: args})
	key := name + " " + strings.Join(args, " ")
	if resp, ok := m.Responses[key]; ok {
		return resp.Output, resp.Error
	}
	return "", nil
}

func (m *MockCommander) SetResponse(cmd, output string, err error) {
	m.Responses[cmd] = MockResponse{Output: output, Error: err}
}

func (m *MockCommander) commands() []string {
	out := make([]string, len(m.Calls))
	for i, c := range m.Calls {
		out[i] = c.String()
	}
	return out
}

func newClient(m *MockCommander) *Client {
	return NewClient("/repo", m, logger.Nop()).WithRetry(2, 0)
}

func TestChangedFiles_SameRevision(t *testing.T) {
	m := NewMockCommander()
	m.SetResponse("git rev-parse --verify main^{commit}", "abc", nil)
	m.SetResponse("git rev-parse --verify HEAD^{commit}", "abc", nil)

	files, err := ChangedFiles(context.Background(), newClient(m), afero.NewMemMapFs(), "main", "HEAD")
	if err != nil {
		t.Fatal(err)
	}
	if files == nil || len(files) != 0 {
		t.Errorf("files = %v, want empty non-nil set", files)
	}
	for _, c := range m.commands() {
		if strings.HasPrefix(c, "git diff") {
			t.Error("identical revisions must not be diffed")
		}
	}
}

func TestChangedFiles_FiltersRobotFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/repo/codebundles/k8s/runbook.robot", []byte("x"), 0o644)
	afero.WriteFile(fs, "/repo/codebundles/k8s/sli.robot", []byte("x"), 0o644)

	m := NewMockCommander()
	m.SetResponse("git fetch origin base head", "", errors.New("network down"))
	m.SetResponse("git rev-parse --verify base^{commit}", "aaa", nil)
	m.SetResponse("git rev-parse --verify head^{commit}", "bbb", nil)
	m.SetResponse("git diff --name-only --relative aaa bbb",
		"README.md\ncodebundles/k8s/runbook.robot\ncodebundles/k8s/sli.robot\ncodebundles/old/runbook.robot\n", nil)

	files, err := ChangedFiles(context.Background(), newClient(m), fs, "base", "head")
	if err != nil {
		t.Fatalf("fetch failure must only warn: %v", err)
	}
	want := []string{"codebundles/k8s/runbook.robot", "codebundles/k8s/sli.robot"}
	if strings.Join(files, ",") != strings.Join(want, ",") {
		t.Errorf("files = %v, want %v", files, want)
	}
	if m.Calls[0].Dir != "/repo" {
		t.Errorf("commands should run in the work dir, got %q", m.Calls[0].Dir)
	}
}

func TestChangedFiles_UnknownRevision(t *testing.T) {
	m := NewMockCommander()
	m.SetResponse("git rev-parse --verify nope^{commit}", "", errors.New("fatal: needed a single revision"))
	_, err := ChangedFiles(context.Background(), newClient(m), afero.NewMemMapFs(), "nope", "HEAD")
	if !clierr.Is(err, clierr.CollaboratorError) {
		t.Errorf("err = %v, want COLLABORATOR_ERROR", err)
	}
}

func TestNetworkRetry(t *testing.T) {
	m := NewMockCommander()
	m.SetResponse("git fetch origin main", "", errors.New("connection reset"))
	err := newClient(m).Fetch(context.Background(), "origin", "main")
	if err == nil {
		t.Fatal("expected error")
	}
	if len(m.Calls) != 2 {
		t.Errorf("calls = %d, want 2 attempts", len(m.Calls))
	}

	m = NewMockCommander()
	m.SetResponse("git fetch origin main", "", errors.New("Permission denied (publickey)"))
	_ = newClient(m).Fetch(context.Background(), "origin", "main")
	if len(m.Calls) != 1 {
		t.Errorf("permanent failure retried: %d calls", len(m.Calls))
	}
}

func TestPublish(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*MockCommander)
		opts   PublishOptions
		want   []string
		result PublishResult
	}{
		{
			name: "new branch with pr",
			setup: func(m *MockCommander) {
				m.SetResponse("git status --porcelain", " M runbook.robot", nil)
				m.SetResponse("git rev-parse --verify auto-task-analysis", "", errors.New("unknown revision"))
				m.SetResponse("gh pr create --base main --head auto-task-analysis --title "+DefaultPRTitle+" --body "+DefaultPRBody, "https://github.com/o/r/pull/7", nil)
			},
			opts: PublishOptions{Branch: "auto-task-analysis", BaseBranch: "main", Paths: []string{"runbook.robot", "task_analysis.json"}, OpenPR: true},
			want: []string{
				"git status --porcelain",
				"git rev-parse --verify auto-task-analysis",
				"git checkout -b auto-task-analysis",
				"git add -- runbook.robot task_analysis.json",
				"git commit -m " + DefaultCommitMessage,
				"git push -u origin auto-task-analysis",
				"gh --version",
				"gh pr create --base main --head auto-task-analysis --title " + DefaultPRTitle + " --body " + DefaultPRBody,
			},
			result: PublishResult{Branch: "auto-task-analysis", Committed: true, PRURL: "https://github.com/o/r/pull/7"},
		},
		{
			name: "existing branch without pr",
			setup: func(m *MockCommander) {
				m.SetResponse("git status --porcelain", " M sli.robot", nil)
				m.SetResponse("git rev-parse --verify fixes", "abc", nil)
			},
			opts: PublishOptions{Branch: "fixes", BaseBranch: "main"},
			want: []string{
				"git status --porcelain",
				"git rev-parse --verify fixes",
				"git checkout fixes",
				"git add -- .",
				"git commit -m " + DefaultCommitMessage,
				"git push -u origin fixes",
			},
			result: PublishResult{Branch: "fixes", Committed: true},
		},
		{
			name: "new branch without pr",
			setup: func(m *MockCommander) {
				m.SetResponse("git status --porcelain", " M runbook.robot", nil)
				m.SetResponse("git rev-parse --verify auto-task-analysis", "", errors.New("unknown revision"))
			},
			opts: PublishOptions{Branch: "auto-task-analysis", BaseBranch: "main"},
			want: []string{
				"git status --porcelain",
				"git rev-parse --verify auto-task-analysis",
				"git checkout -b auto-task-analysis",
				"git add -- .",
				"git commit -m " + DefaultCommitMessage,
				"git push -u origin auto-task-analysis",
			},
			result: PublishResult{Branch: "auto-task-analysis", Committed: true},
		},
		{
			name:   "clean tree",
			setup:  func(*MockCommander) {},
			opts:   PublishOptions{Branch: "fixes", OpenPR: true},
			want:   []string{"git status --porcelain"},
			result: PublishResult{Branch: "fixes"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMockCommander()
			tt.setup(m)
			res, err := NewPublisher(newClient(m), logger.Nop()).Publish(context.Background(), tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if *res != tt.result {
				t.Errorf("result = %+v, want %+v", *res, tt.result)
			}
			got := m.commands()
			if strings.Join(got, "\n") != strings.Join(tt.want, "\n") {
				t.Errorf("commands:\n%s\nwant:\n%s", strings.Join(got, "\n"), strings.Join(tt.want, "\n"))
			}
		})
	}
}

func TestPublish_PushFailureIsCollaboratorError(t *testing.T) {
	m := NewMockCommander()
	m.SetResponse("git status --porcelain", " M runbook.robot", nil)
	m.SetResponse("git push -u origin b", "", errors.New("remote: Permission denied"))
	res, err := NewPublisher(newClient(m), logger.Nop()).Publish(context.Background(), PublishOptions{Branch: "b", OpenPR: true})
	if !clierr.Is(err, clierr.CollaboratorError) {
		t.Fatalf("err = %v, want COLLABORATOR_ERROR", err)
	}
	if res == nil || !res.Committed {
		t.Error("the local commit should still be reported")
	}
}

func TestClone(t *testing.T) {
	m := NewMockCommander()
	dir, cleanup, err := Clone(context.Background(), m, "https://example.com/r.git", "main", logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()
	want := "git clone --depth=1 --branch main https://example.com/r.git " + dir
	if got := m.Calls[0].String(); got != want {
		t.Errorf("clone command = %q, want %q", got, want)
	}

	if _, _, err := Clone(context.Background(), failingCommander{}, "u", "b", logger.Nop()); !clierr.Is(err, clierr.CollaboratorError) {
		t.Errorf("err = %v, want COLLABORATOR_ERROR", err)
	}
}

type failingCommander struct{}

func (failingCommander) Run(context.Context, string, ...string) (string, error) {
	return "", errors.New("repository not found")
}

func (failingCommander) RunInDir(context.Context, string, string, ...string) (string, error) {
	return "", errors.New("repository not found")
}
