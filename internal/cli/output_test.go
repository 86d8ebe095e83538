package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runengine/internal/document"
)

func TestExitError(t *testing.T) {
	cause := errors.New("run interrupted")

	err := WrapExitError(ExitInterrupted, "run aborted", cause)
	assert.Equal(t, "run aborted: run interrupted", err.Error())
	assert.ErrorIs(t, err, cause)

	plain := NewExitError(ExitCommandError, "E005: plan file not found")
	assert.Equal(t, "E005: plan file not found", plain.Error())
	assert.Nil(t, plain.Unwrap())
}

func TestGetExitCode_Wrapped(t *testing.T) {
	err := fmt.Errorf("command: %w", NewExitError(ExitInterrupted, "run aborted"))
	assert.Equal(t, ExitInterrupted, GetExitCode(err))
}

func TestOutputFormatter_Error(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		verbose bool
		want    string
	}{
		{
			name:   "text",
			format: "text",
			want:   "Error [E005]: plan file not found: scan.cue\n",
		},
		{
			name:    "text verbose with details",
			format:  "text",
			verbose: true,
			want:    "Error [E005]: plan file not found: scan.cue\nDetails: map[line:3]\n",
		},
		{
			name:   "json",
			format: "json",
			want:   `{"status":"error","error":{"code":"E005","message":"plan file not found: scan.cue","details":{"line":3}}}` + "\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			f := &OutputFormatter{Format: tt.format, Writer: buf, Verbose: tt.verbose}
			require.NoError(t, f.Error(ErrCodeNotFound, "plan file not found: scan.cue", map[string]any{"line": 3}))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestOutputFormatter_Success(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}
	require.NoError(t, f.Success(RunSummary{RunUID: "uid-0001", ScanID: 1, Plan: "count", ExitStatus: "success", Events: 2, Descriptors: 1}))

	var resp struct {
		Status string     `json:"status"`
		Data   RunSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "uid-0001", resp.Data.RunUID)
	assert.Equal(t, 2, resp.Data.Events)

	buf.Reset()
	f.Format = "text"
	require.NoError(t, f.Success("done"))
	assert.Equal(t, "done\n", buf.String())
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}

	f := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut}
	f.VerboseLog("Device %s: %s", "det", "detector")
	assert.Empty(t, errOut.String())

	f.Verbose = true
	f.VerboseLog("Device %s: %s", "det", "detector")
	assert.Equal(t, "Device det: detector\n", errOut.String())
	assert.Empty(t, out.String(), "diagnostics must not corrupt JSON output")

	noErr := &OutputFormatter{Writer: out, Verbose: true}
	assert.Same(t, out, noErr.GetErrWriter())
}

func TestCLIResponse_RunUIDOmittedWhenEmpty(t *testing.T) {
	data, err := json.Marshal(CLIResponse{Status: "ok"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(data))

	data, err = json.Marshal(CLIResponse{Status: "ok", RunUID: "uid-0001"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","run_uid":"uid-0001"}`, string(data))
}

func TestExitCodeFor(t *testing.T) {
	assert.Equal(t, ExitSuccess, ExitCodeFor(document.ExitSuccess))
	assert.Equal(t, ExitInterrupted, ExitCodeFor(document.ExitAbort))
	assert.Equal(t, ExitFailure, ExitCodeFor(document.ExitFail))
}

func TestOutputFormatter_Document(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	event := document.Event{
		Descriptor: "d1",
		Time:       ts,
		SeqNum:     3,
		UID:        "e3",
		Data: document.Readings{
			"motor_x": {Value: 2.5, Timestamp: ts},
			"det":     {Value: 7.0, Timestamp: ts},
		},
	}

	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}
	require.NoError(t, f.Document(event))
	require.NoError(t, f.Document(document.RunStop{UID: "s1", RunStart: "r1", Time: ts, ExitStatus: document.ExitFail, Reason: "boom"}))
	assert.Equal(t,
		"event       seq=3 descriptor=d1 det=7 motor_x=2.5\n"+
			`stop        uid=s1 exit_status=fail reason="boom"`+"\n",
		buf.String())

	buf.Reset()
	f.Format = "json"
	require.NoError(t, f.Document(event))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "event", decoded["kind"])
	assert.Equal(t, float64(3), decoded["seq_num"])
}
