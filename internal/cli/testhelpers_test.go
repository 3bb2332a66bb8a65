package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, args []string) (stdout string, stderr string, err error) {
	t.Helper()
	return runCommandContext(context.Background(), args)
}

func runCommandContext(ctx context.Context, args []string) (string, string, error) {
	cmd := NewRootCmd()
	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	cmd.SetOut(outBuf)
	cmd.SetErr(errBuf)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	return outBuf.String(), errBuf.String(), err
}

// fakeEngines serves the speech and translation REST shapes.
type fakeEngines struct {
	speech     *httptest.Server
	translate  *httptest.Server
	recognized atomic.Int32
	translated atomic.Int32
}

func newFakeEngines(t *testing.T, transcript, detected string) *fakeEngines {
	t.Helper()
	e := &fakeEngines{}

	e.speech = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/speech:longrunningrecognize" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		e.recognized.Add(1)
		resp := map[string]any{
			"name": "op-1",
			"done": true,
			"response": map[string]any{
				"@type": "type.googleapis.com/google.cloud.speech.v1.LongRunningRecognizeResponse",
				"results": []any{
					map[string]any{"alternatives": []any{map[string]any{"transcript": transcript, "confidence": 0.9}}},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(e.speech.Close)

	e.translate = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Q      []string `json:"q"`
			Target string   `json:"target"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch r.URL.Path {
		case "/language/translate/v2/detect":
			_, _ = fmt.Fprintf(w, `{"data":{"detections":[[{"language":%q,"confidence":0.9}]]}}`, detected)
		case "/language/translate/v2":
			e.translated.Add(1)
			text := ""
			if len(req.Q) > 0 {
				text = req.Q[0]
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{
				"translations": []any{map[string]any{"translatedText": req.Target + ": " + text}},
			}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(e.translate.Close)
	return e
}

// writeTestConfig points every path at dataDir and the engines at e.
func writeTestConfig(t *testing.T, dataDir string, e *fakeEngines) string {
	t.Helper()
	speechURL, translateURL := "http://127.0.0.1:1", "http://127.0.0.1:1"
	if e != nil {
		speechURL, translateURL = e.speech.URL, e.translate.URL
	}
	content := fmt.Sprintf(`data_dir = %q

[languages]
targets = ["en", "fr", "es"]

[bus]
poll_interval_ms = 10
retry_backoff_seconds = 0

[speech]
base_url = %q
api_key = "speech-secret"
retries = 1

[translate]
base_url = %q
api_key = "translate-secret"
retries = 1

[triggers]
backoff_ms = 10
settle_ms = 20
`, dataDir, speechURL, translateURL)

	path := filepath.Join(dataDir, "config.toml")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
