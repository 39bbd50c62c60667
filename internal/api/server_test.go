package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/crxlens/crxlens/internal/analysis"
	"github.com/crxlens/crxlens/internal/listing"
	sharedErrors "github.com/crxlens/crxlens/internal/shared/errors"
	"github.com/crxlens/crxlens/internal/store"
)

type stubAnalysis struct {
	result  *analysis.Result
	err     error
	lookups map[string]*analysis.Result
}

func (s *stubAnalysis) Analyze(ctx context.Context, id string, st store.Store, opts analysis.Options) (*analysis.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubAnalysis) Lookup(ctx context.Context, id string, st store.Store) (*analysis.Result, error) {
	if r, ok := s.lookups[st.String()+"/"+id]; ok {
		return r, nil
	}
	return nil, sharedErrors.ErrCacheMiss
}

type stubMetadata struct{}

func (stubMetadata) Enrich(ctx context.Context, id string, st store.Store, result *analysis.Result) (*listing.Listing, string) {
	return &listing.Listing{Name: "Stub Extension", Rating: 4.2}, "a short summary"
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = zaptest.NewLogger(t)
	}
	return NewServer(cfg)
}

func postAnalyze(t *testing.T, srv *Server, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHandleAnalyze_Success(t *testing.T) {
	result := &analysis.Result{
		Permissions:       []string{"storage", "tabs"},
		PermissionsScore:  2.5,
		ThirdPartyDomains: []string{"api.example.com"},
	}
	srv := newTestServer(t, Config{
		Analysis: &stubAnalysis{result: result},
		Metadata: stubMetadata{},
		Metrics:  NewMetrics(),
	})

	rec := postAnalyze(t, srv, AnalyzeRequest{ExtensionID: "ext-1", Store: "chrome"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp AnalyzeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "success" {
		t.Errorf("unexpected status: %q", resp.Status)
	}
	if resp.AnalysisResults == nil || resp.AnalysisResults.PermissionsScore != 2.5 {
		t.Errorf("analysis results not forwarded: %+v", resp.AnalysisResults)
	}
	if resp.ExtensionDetails == nil || resp.ExtensionDetails.Name != "Stub Extension" {
		t.Errorf("listing metadata missing: %+v", resp.ExtensionDetails)
	}
	if resp.Summary != "a short summary" {
		t.Errorf("summary missing: %q", resp.Summary)
	}
}

func TestHandleAnalyze_ResponseFieldNames(t *testing.T) {
	srv := newTestServer(t, Config{
		Analysis: &stubAnalysis{result: &analysis.Result{
			Permissions:       []string{"tabs"},
			ThirdPartyDomains: []string{"x.example.com"},
		}},
	})

	rec := postAnalyze(t, srv, AnalyzeRequest{ExtensionID: "ext-1", Store: "edge"})
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var results map[string]json.RawMessage
	if err := json.Unmarshal(raw["analysis_results"], &results); err != nil {
		t.Fatalf("decode analysis_results: %v", err)
	}
	for _, field := range []string{"permissions", "permissions_score", "third_party_dependencies", "manifest"} {
		if _, ok := results[field]; !ok {
			t.Errorf("stable field %q missing from response", field)
		}
	}
}

func TestHandleAnalyze_BadStore(t *testing.T) {
	srv := newTestServer(t, Config{Analysis: &stubAnalysis{}})

	rec := postAnalyze(t, srv, AnalyzeRequest{ExtensionID: "ext-1", Store: "netscape"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown store, got %d", rec.Code)
	}
}

func TestHandleAnalyze_MissingID(t *testing.T) {
	srv := newTestServer(t, Config{Analysis: &stubAnalysis{}})

	rec := postAnalyze(t, srv, AnalyzeRequest{Store: "chrome"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing ID, got %d", rec.Code)
	}
}

func TestHandleAnalyze_StageErrors(t *testing.T) {
	cases := []struct {
		stage string
		want  int
	}{
		{analysis.StageDownload, http.StatusBadGateway},
		{analysis.StageContainer, http.StatusUnprocessableEntity},
		{analysis.StageArchive, http.StatusUnprocessableEntity},
		{analysis.StageManifest, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		srv := newTestServer(t, Config{
			Analysis: &stubAnalysis{err: sharedErrors.AtStage(tc.stage, sharedErrors.ErrTruncated)},
		})

		rec := postAnalyze(t, srv, AnalyzeRequest{ExtensionID: "ext-1", Store: "chrome"})
		if rec.Code != tc.want {
			t.Errorf("stage %s: expected %d, got %d", tc.stage, tc.want, rec.Code)
		}

		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode error body: %v", err)
		}
		if body["stage"] != tc.stage {
			t.Errorf("stage %s: error body missing stage, got %v", tc.stage, body)
		}
	}
}

func TestHandleResult(t *testing.T) {
	srv := newTestServer(t, Config{
		Analysis: &stubAnalysis{lookups: map[string]*analysis.Result{
			"chrome/ext-1": {PermissionsScore: 1.5},
		}},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/results/chrome/ext-1", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/results/chrome/never-analyzed", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for cache miss, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/results/netscape/ext-1", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown store, got %d", rec.Code)
	}
}

func TestAuthToken(t *testing.T) {
	srv := newTestServer(t, Config{Analysis: &stubAnalysis{}, AuthToken: "sekrit"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Auth-Token", "sekrit")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", rec.Code)
	}
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t, Config{Analysis: &stubAnalysis{}})

	for _, path := range []string{"/api/v1/health", "/api/v1/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, Config{Analysis: &stubAnalysis{result: &analysis.Result{}}, Metrics: NewMetrics()})

	// Run one analysis so the counter has a sample.
	postAnalyze(t, srv, AnalyzeRequest{ExtensionID: "ext-1", Store: "chrome"})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("crxlens_analyses_total")) {
		t.Error("expected crxlens_analyses_total in metrics output")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, Config{Analysis: &stubAnalysis{}})

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/analyze", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}
