package patch

import (
	"testing"

	"github.com/spf13/afero"

	"codebundle-score/clierr"
	"codebundle-score/codebundle"
	"codebundle-score/logger"
)

const source = "*** Tasks ***\n" +
	"check pods\n" +
	"    Log    ${NAMESPACE}\n" +
	"Restart things\n" +
	"    [Tags]    k8s\n" +
	"    Log    restarting\n"

func edits() []*codebundle.Edit {
	return []*codebundle.Edit{
		{StartLine: 2, EndLine: 2, Original: []string{"check pods"}, Replacement: []string{"Check Pods in Namespace `${NAMESPACE}`"}},
		{StartLine: 3, EndLine: 3, Original: []string{"    Log    ${NAMESPACE}"}, Replacement: []string{"    [Tags]    access:readonly", "    Log    ${NAMESPACE}"}},
		{StartLine: 5, EndLine: 5, Original: []string{"    [Tags]    k8s"}, Replacement: []string{"    [Tags]    k8s    access:read-write"}},
	}
}

const patched = "*** Tasks ***\n" +
	"Check Pods in Namespace `${NAMESPACE}`\n" +
	"    [Tags]    access:readonly\n" +
	"    Log    ${NAMESPACE}\n" +
	"Restart things\n" +
	"    [Tags]    k8s    access:read-write\n" +
	"    Log    restarting\n"

func newFS(t *testing.T, content string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/cb/runbook.robot", []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return fs
}

func read(t *testing.T, fs afero.Fs) string {
	t.Helper()
	data, err := afero.ReadFile(fs, "/cb/runbook.robot")
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestApply_Idempotent(t *testing.T) {
	fs := newFS(t, source)
	a := New(fs, logger.Nop())

	res, err := a.Apply("/cb/runbook.robot", edits())
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied != 3 || !res.Written {
		t.Errorf("first apply = %+v", res)
	}
	if got := read(t, fs); got != patched {
		t.Fatalf("patched content:\n%s\nwant:\n%s", got, patched)
	}

	res, err = a.Apply("/cb/runbook.robot", edits())
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if res.Applied != 0 || res.AlreadyApplied != 3 || res.Written {
		t.Errorf("second apply = %+v, want no-op", res)
	}
	if got := read(t, fs); got != patched {
		t.Errorf("second apply changed the file:\n%s", got)
	}
}

func TestApply_PartiallyApplied(t *testing.T) {
	fs := newFS(t, source)
	a := New(fs, logger.Nop())
	if _, err := a.Apply("/cb/runbook.robot", edits()[1:2]); err != nil {
		t.Fatal(err)
	}
	res, err := a.Apply("/cb/runbook.robot", edits())
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied != 2 || res.AlreadyApplied != 1 {
		t.Errorf("result = %+v", res)
	}
	if got := read(t, fs); got != patched {
		t.Errorf("content:\n%s", got)
	}
}

func TestApply_StaleSpanRejectsWholeFile(t *testing.T) {
	modified := "*** Tasks ***\n" +
		"check pods\n" +
		"    Log    ${NAMESPACE}\n" +
		"Restart everything\n" +
		"    [Tags]    k8s    prod\n" +
		"    Log    restarting\n"
	fs := newFS(t, modified)
	_, err := New(fs, logger.Nop()).Apply("/cb/runbook.robot", edits())
	if !clierr.Is(err, clierr.PatchConflict) {
		t.Fatalf("err = %v, want PATCH_CONFLICT", err)
	}
	if got := read(t, fs); got != modified {
		t.Error("stale patch must not write any edit")
	}
}

func TestApply_OverlappingEdits(t *testing.T) {
	fs := newFS(t, source)
	es := append(edits(), &codebundle.Edit{StartLine: 2, EndLine: 3, Original: []string{"check pods", "    Log    ${NAMESPACE}"}, Replacement: []string{"x"}})
	_, err := New(fs, logger.Nop()).Apply("/cb/runbook.robot", es)
	if !clierr.Is(err, clierr.PatchConflict) {
		t.Fatalf("err = %v, want PATCH_CONFLICT", err)
	}
}

func TestApply_PreservesLineEndings(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "crlf",
			in:   "*** Tasks ***\r\ncheck pods\r\n    Log    ${NAMESPACE}\r\n",
			want: "*** Tasks ***\r\nCheck Pods in Namespace `${NAMESPACE}`\r\n    [Tags]    access:readonly\r\n    Log    ${NAMESPACE}\r\n",
		},
		{
			name: "no final newline",
			in:   "*** Tasks ***\ncheck pods\n    Log    ${NAMESPACE}",
			want: "*** Tasks ***\nCheck Pods in Namespace `${NAMESPACE}`\n    [Tags]    access:readonly\n    Log    ${NAMESPACE}",
		},
		{
			name: "byte order mark",
			in:   "\ufeff*** Tasks ***\ncheck pods\n    Log    ${NAMESPACE}\n",
			want: "\ufeff*** Tasks ***\nCheck Pods in Namespace `${NAMESPACE}`\n    [Tags]    access:readonly\n    Log    ${NAMESPACE}\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFS(t, tt.in)
			if _, err := New(fs, logger.Nop()).Apply("/cb/runbook.robot", edits()[:2]); err != nil {
				t.Fatal(err)
			}
			if got := read(t, fs); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCheck(t *testing.T) {
	fs := newFS(t, source)
	a := New(fs, logger.Nop())
	if _, err := a.Apply("/cb/runbook.robot", edits()[:1]); err != nil {
		t.Fatal(err)
	}
	stale := &codebundle.Edit{StartLine: 6, EndLine: 6, Original: []string{"    Log    other"}, Replacement: []string{"x"}}
	got, err := a.Check("/cb/runbook.robot", append(edits(), stale))
	if err != nil {
		t.Fatal(err)
	}
	want := []Status{StatusApplied, StatusPending, StatusPending, StatusStale}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("status[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}
