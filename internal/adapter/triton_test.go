package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTritonAdapter(t *testing.T, srv *httptest.Server) *tritonAdapter {
	t.Helper()
	a, err := newTriton(Config{ServerURL: srv.URL, RequestTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("newTriton: %v", err)
	}
	return a.(*tritonAdapter)
}

func TestTritonHealth_BothProbesMustPass(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v2/models/demo/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := newTritonAdapter(t, srv)
	a.modelName = "demo"

	if a.Health(context.Background()) {
		t.Fatalf("health should fail when the model-readiness probe fails, even if server-readiness succeeds")
	}
}

func TestTritonHealth_BothProbesPass(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v2/models/demo/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := newTritonAdapter(t, srv)
	a.modelName = "demo"

	if !a.Health(context.Background()) {
		t.Fatalf("health should pass when both probes succeed")
	}
}

func TestTritonSendOnce_CountsOutputTokens(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/models/demo/generate", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(tritonResponse{TextOutput: "four little words"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := newTritonAdapter(t, srv)
	result, err := a.Send(context.Background(), GenerateRequest{Model: "demo", Prompt: "hi there"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result.OutputTokens != 3 {
		t.Fatalf("output tokens = %d, want 3 (\"four little words\")", result.OutputTokens)
	}
	if result.InputTokens != 2 {
		t.Fatalf("input tokens = %d, want 2", result.InputTokens)
	}
}

func TestTritonSendOnce_HTTPErrorMapsToHTTPStatusKind(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/models/demo/generate", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := newTritonAdapter(t, srv)
	_, err := a.Send(context.Background(), GenerateRequest{Model: "demo", Prompt: "hi"})
	if err == nil {
		t.Fatal("expected an error for a 500 response")
	}
	adapterErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *adapter.Error, got %T", err)
	}
	if adapterErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("status code = %d, want 500", adapterErr.StatusCode)
	}
}

func TestTritonSendStreaming_DecodesOneJSONPerLine(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/models/demo/generate_stream", func(w http.ResponseWriter, r *http.Request) {
		lines := []string{"one", "one two", "one two three"}
		for _, l := range lines {
			body, _ := json.Marshal(tritonResponse{TextOutput: l})
			w.Write(body)
			w.Write([]byte("\n"))
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := newTritonAdapter(t, srv)
	result, err := a.Send(context.Background(), GenerateRequest{Model: "demo", Prompt: "go", Stream: true})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result.OutputTokens != 3 {
		t.Fatalf("output tokens = %d, want 3 (incremental word diff across 3 chunks)", result.OutputTokens)
	}
	if len(result.TokenTimes) != 3 {
		t.Fatalf("expected one token time per streamed chunk, got %d", len(result.TokenTimes))
	}
}

func TestRepeatTime(t *testing.T) {
	now := time.Now().UTC()
	if out := repeatTime(now, 0); out != nil {
		t.Fatalf("n<=0 should return nil, got %v", out)
	}
	out := repeatTime(now, 3)
	if len(out) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(out))
	}
	for _, ts := range out {
		if !ts.Equal(now) {
			t.Errorf("expected every entry to equal %v, got %v", now, ts)
		}
	}
}
