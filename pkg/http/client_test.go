package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendAndParseDecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected json content type, got %q", r.Header.Get("Content-Type"))
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"ticker":"AAPL"}` {
			t.Errorf("unexpected body %s", body)
		}
		if r.URL.Query().Get("tf") != "1d" {
			t.Errorf("missing query param")
		}
		_, _ = w.Write([]byte(`{"strategy_id":"rsi_1"}`))
	}))
	defer srv.Close()

	var out struct {
		StrategyID string `json:"strategy_id"`
	}
	err := NewClient().SendAndParse(context.Background(), &RequestOptions{
		Method:      MethodPost,
		URL:         srv.URL,
		QueryParams: map[string][]string{"tf": {"1d"}},
		Body:        map[string]string{"ticker": "AAPL"},
	}, &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.StrategyID != "rsi_1" {
		t.Fatalf("unexpected decode %+v", out)
	}
}

func TestSendAndParseStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such strategy", http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewClient().SendAndParse(context.Background(), &RequestOptions{Method: MethodGet, URL: srv.URL}, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Code != http.StatusNotFound || se.Body != "no such strategy" {
		t.Fatalf("unexpected status error %+v", se)
	}
}

func TestSendAndParseNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var out map[string]interface{}
	if err := NewClient().SendAndParse(context.Background(), &RequestOptions{Method: MethodDelete, URL: srv.URL}, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
