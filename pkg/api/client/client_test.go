package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewNormalizesBaseURL(t *testing.T) {
	c, err := New(" localhost:4000/ ")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.baseURL != "http://localhost:4000" {
		t.Fatalf("baseURL = %q", c.baseURL)
	}
	c, err = New("")
	if err != nil || c.baseURL != "http://localhost:4000" {
		t.Fatalf("default baseURL = %q, %v", c.baseURL, err)
	}
}

func TestDeploySendsInputAndToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/deploy" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		var in DeployInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode: %v", err)
		}
		if in.ProjectID != "p1" || !in.IncludeAssets {
			t.Errorf("input = %+v", in)
		}
		_, _ = w.Write([]byte(`{"success":true,"deploymentId":"d1","projectId":"p1","fileCount":7,"scriptPath":null}`))
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	res, err := c.Deploy(context.Background(), " tok ", DeployInput{ProjectID: "p1", ProjectName: "Shop", IncludeAssets: true})
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if !res.Success || res.DeploymentID != "d1" || res.FileCount != 7 || res.ScriptPath != nil {
		t.Fatalf("result = %+v", res)
	}
}

func TestErrorsCarryStatusAndDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"error":"Deploy failed","details":"disk full","deployTimeMillis":12}`))
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	_, err := c.Deploy(context.Background(), "tok", DeployInput{ProjectID: "p1", ProjectName: "Shop"})
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusInternalServerError || apiErr.Message != "Deploy failed: disk full" {
		t.Fatalf("apiErr = %+v", apiErr)
	}
}

func TestPlainTextErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	_, err := c.Progress(context.Background(), "tok", "p1")
	var apiErr APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "method not allowed" {
		t.Fatalf("err = %v", err)
	}
}

func TestProgressAndListQueries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/deploy/progress":
			if got := r.URL.Query().Get("projectId"); got != "p 1" {
				t.Errorf("projectId = %q", got)
			}
			_, _ = w.Write([]byte(`{"status":"processing","progress":42,"totalFiles":10,"processedFiles":2,"startTime":"2024-05-01T10:00:00Z"}`))
		case "/deploys":
			q := r.URL.Query()
			if q.Get("projectId") != "p 1" || q.Get("limit") != "5" {
				t.Errorf("query = %v", q)
			}
			_, _ = w.Write([]byte(`[{"id":"d1","status":"completed","fileCount":8,"startedAt":"2024-05-01T10:00:00Z"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	progress, err := c.Progress(context.Background(), "tok", "p 1")
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if progress.Status != "processing" || progress.Progress != 42 || progress.ProcessedFiles != 2 {
		t.Fatalf("progress = %+v", progress)
	}
	list, err := c.ListDeployments(context.Background(), "tok", "p 1", 5)
	if err != nil {
		t.Fatalf("ListDeployments: %v", err)
	}
	if len(list) != 1 || list[0].ID != "d1" || list[0].FileCount != 8 {
		t.Fatalf("list = %+v", list)
	}
}

func TestBusyRetriesHonourRetryAfter(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.Header().Set("Retry-After", "5")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"success":false,"error":"Server is busy"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"deploymentId":"d9"}`))
	}))
	defer srv.Close()

	c, _ := New(srv.URL, WithBusyRetries(2))
	var waits []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	res, err := c.Deploy(context.Background(), "tok", DeployInput{ProjectID: "p1", ProjectName: "Shop"})
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if res.DeploymentID != "d9" || calls != 3 {
		t.Fatalf("result=%+v calls=%d", res, calls)
	}
	if len(waits) != 2 || waits[0] != 5*time.Second {
		t.Fatalf("waits = %v", waits)
	}
}

func TestBusyWithoutRetriesFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	_, err := c.Deploy(context.Background(), "tok", DeployInput{ProjectID: "p1", ProjectName: "Shop"})
	if !IsStatus(err, http.StatusTooManyRequests) {
		t.Fatalf("err = %v", err)
	}
	var apiErr APIError
	if !errors.As(err, &apiErr) || apiErr.RetryAfter != 5*time.Second {
		t.Fatalf("apiErr = %+v", apiErr)
	}
}
