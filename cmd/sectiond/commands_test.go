package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kalambet/sectiond/internal/sections"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})
		ts.mu.Unlock()

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

// execute runs the root command with args and stdin, returning stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	defer func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetIn(nil)
	}()
	err := rootCmd.Execute()
	return out.String(), err
}

func TestAssembleCommand_Delimited(t *testing.T) {
	out, err := execute(t,
		"###OVERVIEW###All good###OVERVIEW###\n###NEXT_STEP###Call on Monday###END_NEXT_STEP###",
		"assemble", "--delimited", "--format", "json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var secs []sections.Section
	if err := json.Unmarshal([]byte(out), &secs); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	var ids []string
	for _, s := range secs {
		ids = append(ids, s.ID)
	}
	if diff := cmp.Diff([]string{"overview", "next_step"}, ids); diff != "" {
		t.Errorf("section ids (-want +got):\n%s", diff)
	}
	if !strings.Contains(secs[1].Content, "Call on Monday") {
		t.Errorf("content = %q", secs[1].Content)
	}
}

func TestAssembleCommand_FileAndTextFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "answer.txt")
	if err := os.WriteFile(path, []byte("###RISKS###Vendor lock-in###RISKS###"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "", "assemble", "--delimited", "--file", path, "--format", "text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Vendor lock-in") {
		t.Errorf("output = %q, want it to contain the section body", out)
	}
}

func TestAssembleCommand_UnknownFormat(t *testing.T) {
	_, err := execute(t, "hello", "assemble", "--delimited=false", "--file=", "--format", "yaml")
	if err == nil || !strings.Contains(err.Error(), "unknown format") {
		t.Errorf("err = %v, want unknown format", err)
	}
}

func TestKeyCommand(t *testing.T) {
	out, err := execute(t, "", "key", "diagnosis", `{"q": 1}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.TrimSpace(out); got != "diagnosis_-1427377650" {
		t.Errorf("key = %q, want diagnosis_-1427377650", got)
	}
}

func TestKeyCommand_Stdin(t *testing.T) {
	out, err := execute(t, "{\"q\":1}\n", "key", "diagnosis")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.TrimSpace(out); got != "diagnosis_-1427377650" {
		t.Errorf("key = %q", got)
	}
}

func TestKeyCommand_InvalidPayload(t *testing.T) {
	if _, err := execute(t, "", "key", "diagnosis", "{not json"); err == nil {
		t.Fatal("expected error for invalid JSON payload")
	}
	if _, err := execute(t, "", "key", "diagnosis", "null"); err == nil {
		t.Fatal("expected error for null payload")
	}
}

func TestKeyCommand_MissingArgs(t *testing.T) {
	if _, err := execute(t, "", "key"); err == nil {
		t.Fatal("expected error for missing namespace")
	}
}

func TestRunGenerate(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/generate/diagnosis": `{"operation":"diagnosis","key":"diagnosis_-1427377650","cached":true,
			"sections":[{"id":"overview","title":"Overview","content":"ok"}],"generated_at":"2026-01-01T00:00:00Z"}`,
	})

	res, err := runGenerate(ctx, ts.client(), "diagnosis", json.RawMessage(`{"q":1}`), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Cached || res.Key != "diagnosis_-1427377650" {
		t.Errorf("result = %+v", res)
	}
	if len(res.Sections) != 1 || res.Sections[0].Title != "Overview" {
		t.Errorf("sections = %+v", res.Sections)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Method != "POST" || r.Path != "/v1/generate/diagnosis" {
		t.Errorf("request = %s %s", r.Method, r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q", r.Auth)
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["force_regenerate"] != true {
		t.Errorf("force_regenerate = %v, want true", body["force_regenerate"])
	}
	if diff := cmp.Diff(map[string]any{"q": float64(1)}, body["payload"]); diff != "" {
		t.Errorf("payload (-want +got):\n%s", diff)
	}
}

func TestRunGenerate_UnknownOperation(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	_, err := runGenerate(ctx, ts.client(), "horoscope", json.RawMessage(`{}`), false)
	if err == nil {
		t.Fatal("expected error for unknown operation")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "not_found") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestWaitForJob(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if n < 3 {
			w.Write([]byte(`{"id":"job-1","status":"pending","attempts":0}`))
			return
		}
		w.Write([]byte(`{"id":"job-1","status":"completed","attempts":1,"result_id":"gen-9"}`))
	}))
	defer srv.Close()

	client := &apiClient{baseURL: srv.URL, token: "t", httpClient: srv.Client()}
	job, err := waitForJob(ctx, client, "job-1", time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != "completed" || job.ResultID != "gen-9" {
		t.Errorf("job = %+v", job)
	}
}

func TestWaitForJob_Timeout(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /v1/jobs/job-1": `{"id":"job-1","status":"processing","attempts":1}`,
	})

	wctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	_, err := waitForJob(wctx, ts.client(), "job-1", 5*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestWaitForJob_Failed(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /v1/jobs/job-1": `{"id":"job-1","status":"failed","attempts":3,"last_error":"upstream down"}`,
	})

	job, err := waitForJob(ctx, ts.client(), "job-1", time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.LastError != "upstream down" {
		t.Errorf("last_error = %q", job.LastError)
	}
}

func TestGenerationsPath(t *testing.T) {
	tests := []struct {
		limit, offset int
		operation     string
		want          string
	}{
		{20, 0, "", "/v1/generations?limit=20"},
		{10, 30, "", "/v1/generations?limit=10&offset=30"},
		{5, 0, "lead generation", "/v1/generations?limit=5&operation=lead+generation"},
	}
	for _, tt := range tests {
		if got := generationsPath(tt.limit, tt.offset, tt.operation); got != tt.want {
			t.Errorf("generationsPath(%d, %d, %q) = %q, want %q", tt.limit, tt.offset, tt.operation, got, tt.want)
		}
	}
}

func TestWritePrintable(t *testing.T) {
	secs := []sections.Section{
		{ID: "resumo", Title: "Resumo", Content: "Company is growing."},
		{ID: "riscos", Title: "Riscos", Content: "Cash flow."},
	}

	var buf bytes.Buffer
	if err := writePrintable(&buf, secs, formatMarkdown, 80); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "## Overview\n\nCompany is growing.") {
		t.Errorf("output = %q, want the overview first", out)
	}
	if !strings.Contains(out, "## Risks\n\nCash flow.") {
		t.Errorf("output = %q, want risks mapped from riscos", out)
	}
}

func TestWriteSections_Formats(t *testing.T) {
	secs := []sections.Section{{ID: "overview", Title: "Overview", Content: "Fine."}}

	var md bytes.Buffer
	if err := writeSections(&md, secs, formatMarkdown, 80); err != nil {
		t.Fatalf("markdown: %v", err)
	}
	if !strings.Contains(md.String(), "Overview") || !strings.Contains(md.String(), "Fine.") {
		t.Errorf("markdown = %q", md.String())
	}

	var pretty bytes.Buffer
	if err := writeSections(&pretty, secs, formatPretty, 60); err != nil {
		t.Fatalf("pretty: %v", err)
	}
	if !strings.Contains(pretty.String(), "Fine.") {
		t.Errorf("pretty = %q", pretty.String())
	}
}

func TestReadInput(t *testing.T) {
	got, err := readInput([]string{"a", "b"}, "ignored.txt", strings.NewReader("stdin"))
	if err != nil || got != "a b" {
		t.Errorf("args: got %q, %v", got, err)
	}

	got, err = readInput(nil, "", strings.NewReader("from stdin"))
	if err != nil || got != "from stdin" {
		t.Errorf("stdin: got %q, %v", got, err)
	}

	if _, err := readInput(nil, filepath.Join(t.TempDir(), "missing.txt"), nil); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := readInput(nil, filepath.Join(t.TempDir(), "missing.pdf"), nil); err == nil {
		t.Error("expected error for missing pdf")
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	_, err := ts.client().get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"unauthorized","type":"authentication_error"}}`))
	}))
	defer srv.Close()

	client := &apiClient{baseURL: srv.URL, token: "bad-token", httpClient: srv.Client()}
	resp, err := client.get(ctx, "/v1/operations")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "unauthorized") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestCountLabel(t *testing.T) {
	tests := []struct {
		count, limit int
		want         string
	}{
		{5, 100, "5"},
		{0, 100, "0"},
		{100, 100, "100+"},
	}
	for _, tt := range tests {
		if got := countLabel(tt.count, tt.limit); got != tt.want {
			t.Errorf("countLabel(%d, %d) = %q, want %q", tt.count, tt.limit, got, tt.want)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]string{"debug": "DEBUG", "WARN": "WARN", "error": "ERROR", "": "INFO", "loud": "INFO"} {
		if got := parseLogLevel(in).String(); got != want {
			t.Errorf("parseLogLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
