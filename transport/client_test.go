package transport_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/m-mizutani/spangle"
	"github.com/m-mizutani/spangle/span"
	"github.com/m-mizutani/spangle/transport"
)

// collectorStub is a minimal stand-in for the collection service: it issues
// bearer tokens and accepts trace ingestion.
type collectorStub struct {
	t          *testing.T
	token      string
	tokenTTL   time.Duration
	authCalls  atomic.Int64
	ingested   atomic.Int64
	lastIngest map[string]any
}

func (s *collectorStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/token", func(w http.ResponseWriter, r *http.Request) {
		s.authCalls.Add(1)
		var req map[string]string
		gt.NoError(s.t, json.NewDecoder(r.Body).Decode(&req))
		if req["api_key"] == "" && req["username"] == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		ttl := s.tokenTTL
		if ttl == 0 {
			ttl = time.Hour
		}
		gt.NoError(s.t, json.NewEncoder(w).Encode(map[string]any{
			"access_token": s.token,
			"expires_at":   time.Now().Add(ttl),
		}))
	})
	mux.HandleFunc("POST /v1/projects/{project}/traces", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.token {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":"unauthorized","message":"bad token"}}`))
			return
		}
		s.ingested.Add(1)
		var body map[string]any
		gt.NoError(s.t, json.NewDecoder(r.Body).Decode(&body))
		s.lastIngest = body
		s.lastIngest["project"] = r.PathValue("project")
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func TestClientIngestTraces(t *testing.T) {
	stub := &collectorStub{t: t, token: "tok-1"}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	client := gt.R1(transport.NewClient(transport.Config{
		BaseURL: srv.URL,
		APIKey:  "sk-test",
	})).NoError(t)

	tr := span.NewTrace(span.Args{Name: "session"})
	tr.AddChildren(span.NewLLM(span.LLMArgs{Args: span.Args{Input: "hi"}, Model: "gpt-4o"}))

	gt.NoError(t, client.IngestTraces(context.Background(), spangle.Batch{
		Project:   "demo",
		LogStream: "main",
		Traces:    []*span.Trace{tr},
	}))

	gt.Equal(t, stub.ingested.Load(), int64(1))
	gt.Equal(t, stub.lastIngest["project"], any("demo"))
	gt.Equal(t, stub.lastIngest["log_stream"], any("main"))

	traces := gt.Cast[[]any](t, stub.lastIngest["traces"])
	gt.A(t, traces).Length(1).Required()
	first := gt.Cast[map[string]any](t, traces[0])
	gt.Equal(t, first["type"], any("trace"))
}

func TestClientTokenReuse(t *testing.T) {
	stub := &collectorStub{t: t, token: "tok-1"}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	client := gt.R1(transport.NewClient(transport.Config{
		BaseURL:  srv.URL,
		Username: "user",
		Password: "pass",
	})).NoError(t)

	batch := spangle.Batch{Project: "demo", Traces: []*span.Trace{span.NewTrace(span.Args{})}}
	gt.NoError(t, client.Export(context.Background(), batch))
	gt.NoError(t, client.Export(context.Background(), batch))

	// a valid token is reused across requests
	gt.Equal(t, stub.authCalls.Load(), int64(1))
}

func TestClientTokenRefreshOnExpiry(t *testing.T) {
	stub := &collectorStub{t: t, token: "tok-1", tokenTTL: time.Second}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	client := gt.R1(transport.NewClient(transport.Config{
		BaseURL: srv.URL,
		APIKey:  "sk-test",
	})).NoError(t)

	batch := spangle.Batch{Project: "demo", Traces: []*span.Trace{span.NewTrace(span.Args{})}}
	gt.NoError(t, client.Export(context.Background(), batch))
	// the token expires within the refresh margin, so the next request
	// fetches a fresh one
	gt.NoError(t, client.Export(context.Background(), batch))

	gt.Equal(t, stub.authCalls.Load(), int64(2))
}

func TestClientErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/auth/token" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "tok",
				"expires_at":   time.Now().Add(time.Hour),
			})
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"project_not_found","message":"no such project"}}`))
	}))
	defer srv.Close()

	client := gt.R1(transport.NewClient(transport.Config{BaseURL: srv.URL, APIKey: "sk"})).NoError(t)

	err := client.IngestTraces(context.Background(), spangle.Batch{Project: "nope"})
	gt.Error(t, err)
	gt.B(t, transport.IsNotFound(err)).True()
	gt.B(t, transport.IsUnauthorized(err)).False()
	gt.S(t, err.Error()).Contains("no such project")
}

func TestNewClientValidation(t *testing.T) {
	_, err := transport.NewClient(transport.Config{APIKey: "sk"})
	gt.Error(t, err)

	_, err = transport.NewClient(transport.Config{BaseURL: "https://api.example.com"})
	gt.Error(t, err)

	_, err = transport.NewClient(transport.Config{BaseURL: "https://api.example.com", Username: "u"})
	gt.Error(t, err)

	gt.R1(transport.NewClient(transport.Config{
		BaseURL:  "https://api.example.com/",
		Username: "u",
		Password: "p",
	})).NoError(t)
}

func TestCreateExperiment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/auth/token" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "tok",
				"expires_at":   time.Now().Add(time.Hour),
			})
			return
		}
		gt.Equal(t, r.URL.Path, "/v1/projects/demo/experiments")
		var body map[string]string
		gt.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "exp-1",
			"name":    body["name"],
			"project": "demo",
		})
	}))
	defer srv.Close()

	client := gt.R1(transport.NewClient(transport.Config{BaseURL: srv.URL, APIKey: "sk"})).NoError(t)

	exp := gt.R1(client.CreateExperiment(context.Background(), "demo", "ablation")).NoError(t)
	gt.Equal(t, exp.ID, "exp-1")
	gt.Equal(t, exp.Name, "ablation")
}

func TestFileExporter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "traces")
	exporter := transport.NewFileExporter(dir)

	tr := span.NewTrace(span.Args{Name: "session", Input: "q"})
	gt.NoError(t, exporter.Export(context.Background(), spangle.Batch{
		Project: "demo",
		Traces:  []*span.Trace{tr},
	}))

	raw := gt.R1(os.ReadFile(filepath.Join(dir, tr.ID().String()+".json"))).NoError(t)

	var got map[string]any
	gt.NoError(t, json.Unmarshal(raw, &got))
	gt.Equal(t, got["type"], any("trace"))
	gt.Equal(t, got["name"], any("session"))
}
