package amp

import (
	"slices"
	"strings"
	"testing"

	"codebundle-score/logger"
)

func TestReadStream_CollectsResult(t *testing.T) {
	stream := strings.Join([]string{
		`{"type":"system","subtype":"init","session_id":"T-1"}`,
		`not json`,
		`{"type":"assistant"}`,
		`{"type":"result","result":"{\"score\":4}","duration_ms":1200,"num_turns":1}`,
	}, "\n")

	res, err := ReadStream(strings.NewReader(stream), logger.Nop())
	if err != nil {
		t.Fatalf("ReadStream: %v", err)
	}
	if res.SessionID != "T-1" {
		t.Errorf("SessionID = %q", res.SessionID)
	}
	if res.Result != `{"score":4}` || res.IsError {
		t.Errorf("result = %+v", res)
	}
	if res.DurationMs != 1200 {
		t.Errorf("DurationMs = %d", res.DurationMs)
	}
}

func TestReadStream_ErrorResult(t *testing.T) {
	res, err := ReadStream(strings.NewReader(`{"type":"result","is_error":true,"error":"quota"}`), logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || res.Error != "quota" || res.Result != "" {
		t.Errorf("result = %+v", res)
	}
}

func TestBuildArgs(t *testing.T) {
	args := buildArgs("score this", ExecuteOption{Mode: "rush", Labels: []string{"codebundle-score"}}, "/tmp/s.json")
	want := []string{"--execute", "score this", "--stream-json", "--settings-file", "/tmp/s.json", "--mode", "rush", "--label", "codebundle-score"}
	if !slices.Equal(args, want) {
		t.Errorf("args = %q, want %q", args, want)
	}
}
