package relay

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/hcegateway/internal/federation"
	"github.com/hitoshi/hcegateway/internal/model"
	"github.com/hitoshi/hcegateway/internal/site"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// compile-time interface check
var _ federation.RemoteFetcher = (*Client)(nil)

// TestClient_Fetch_PathAndFilter はリレーパスとフィルタの転送を検証する。
func TestClient_Fetch_PathAndFilter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("HTTPメソッド = %s, want GET", r.Method)
		}
		if r.URL.Path != "/internal/relay/clinical-episode" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("id_paciente"); got != "eq.42" {
			t.Errorf("id_paciente = %q, want eq.42", got)
		}
		w.Write([]byte(`[{"id_historia_clinica": 1}, {"id_historia_clinica": 2}]`))
	}))
	defer server.Close()

	var buf bytes.Buffer
	c := NewClient(server.Client(), newTestLogger(&buf), 0)

	got, err := c.Fetch(context.Background(), site.Site{BaseURL: server.URL}, model.ResourceClinicalEpisode, model.EqFilter("id_paciente", 42))
	if err != nil {
		t.Fatalf("Fetch がエラーを返した: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 records, got %d", len(got))
	}
}

// TestClient_Fetch_Failures は各種失敗がErrUpstreamUnavailableになることを検証する。
func TestClient_Fetch_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{name: "502とエラー本文", status: http.StatusBadGateway, body: `{"error":"local store down"}`, wantMsg: "local store down"},
		{name: "500", status: http.StatusInternalServerError, body: ``, wantMsg: "status 500"},
		{name: "200でエラーオブジェクト", status: http.StatusOK, body: `{"error":"boom"}`, wantMsg: "boom"},
		{name: "不正なJSON", status: http.StatusOK, body: `[{"id":`, wantMsg: "decode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			var buf bytes.Buffer
			c := NewClient(server.Client(), newTestLogger(&buf), 0)

			_, err := c.Fetch(context.Background(), site.Site{BaseURL: server.URL}, model.ResourceExam, nil)
			if !IsUpstreamUnavailable(err) {
				t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("expected error containing %q, got %q", tt.wantMsg, err.Error())
			}
		})
	}
}

// TestClient_Fetch_BodyLimit は上限を超える応答を拒否することを検証する。
func TestClient_Fetch_BodyLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"descripcion":"` + strings.Repeat("x", 200) + `"}]`))
	}))
	defer server.Close()

	var buf bytes.Buffer
	c := NewClient(server.Client(), newTestLogger(&buf), 64)

	_, err := c.Fetch(context.Background(), site.Site{BaseURL: server.URL}, model.ResourceExam, nil)
	if !IsUpstreamUnavailable(err) || !strings.Contains(err.Error(), "exceeds") {
		t.Errorf("expected size limit error, got %v", err)
	}
}

// TestClient_Fetch_Timeout はcontextのタイムアウトで打ち切られることを検証する。
func TestClient_Fetch_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	var buf bytes.Buffer
	c := NewClient(server.Client(), newTestLogger(&buf), 0)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Fetch(ctx, site.Site{BaseURL: server.URL}, model.ResourceExam, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if !IsUpstreamUnavailable(err) {
		t.Errorf("expected ErrUpstreamUnavailable, got %v", err)
	}
}
