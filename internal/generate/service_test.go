package generate

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kalambet/sectiond/internal/cache"
	"github.com/kalambet/sectiond/internal/llm"
	"github.com/kalambet/sectiond/internal/sections"
	"github.com/kalambet/sectiond/internal/storage"
)

// --- Fakes ---

type fakeCompleter struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
	last  llm.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	if f.err != nil {
		return llm.Response{}, f.err
	}
	return llm.Response{Text: f.text, Model: "fake-model"}, nil
}

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memStore struct {
	mu   sync.Mutex
	gens []storage.Generation
	err  error
}

func (m *memStore) SaveGeneration(g storage.Generation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.gens = append(m.gens, g)
	return nil
}

const diagnosisOutput = "```json\n{\"overview\":\"Healthy shop\",\"risks\":[\"cash flow\",\"one supplier\"],\"recommendations\":\"open a second channel\",\"next_step\":\"schedule a call\"}\n```"

func newTestService(text string) (*Service, *fakeCompleter, *memStore) {
	fc := &fakeCompleter{text: text}
	st := &memStore{}
	return NewService(fc, cache.New(), st, nil), fc, st
}

// --- Tests ---

func TestGenerate_Diagnosis(t *testing.T) {
	svc, fc, st := newTestService(diagnosisOutput)

	res, err := svc.Generate(context.Background(), Request{
		Operation: "diagnosis",
		Payload:   json.RawMessage(`{"company":"Acme","segment":"retail"}`),
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	want := []sections.Section{
		{ID: "overview", Title: "Overview", Content: "Healthy shop"},
		{ID: "risks", Title: "Risks", Content: "cash flow\none supplier"},
		{ID: "recommendations", Title: "Recommendations", Content: "open a second channel"},
		{ID: "next_step", Title: "Next Step", Content: "schedule a call"},
	}
	if diff := cmp.Diff(want, res.Sections); diff != "" {
		t.Errorf("sections mismatch (-want +got):\n%s", diff)
	}
	if res.Cached {
		t.Error("first call reported cached")
	}
	if !strings.HasPrefix(res.Key, "diagnosis_") {
		t.Errorf("Key = %q", res.Key)
	}
	if res.Model != "fake-model" {
		t.Errorf("Model = %q", res.Model)
	}
	if res.Printable == nil || res.Printable.Field("next_step") != "schedule a call" {
		t.Errorf("Printable = %+v", res.Printable)
	}

	if fc.callCount() != 1 {
		t.Errorf("completer calls = %d", fc.callCount())
	}
	if !fc.last.JSON {
		t.Error("diagnosis should request JSON output")
	}
	if !strings.Contains(fc.last.System, `"next_step"`) {
		t.Errorf("system prompt missing format instructions: %q", fc.last.System)
	}
	if !strings.Contains(fc.last.Prompt, `"company": "Acme"`) {
		t.Errorf("prompt missing indented payload: %q", fc.last.Prompt)
	}

	if len(st.gens) != 1 {
		t.Fatalf("stored %d generations, want 1", len(st.gens))
	}
	g := st.gens[0]
	if g.ID != res.GenerationID || g.CacheKey != res.Key || g.RawOutput != diagnosisOutput {
		t.Errorf("stored generation = %+v", g)
	}
	if g.PayloadJSON != `{"company":"Acme","segment":"retail"}` {
		t.Errorf("PayloadJSON = %q", g.PayloadJSON)
	}
}

func TestGenerate_SecondCallIsCached(t *testing.T) {
	svc, fc, st := newTestService(diagnosisOutput)
	ctx := context.Background()

	first, err := svc.Generate(ctx, Request{Operation: "diagnosis", Payload: json.RawMessage(`{"q":1}`)})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	// Formatting differences do not change the key.
	second, err := svc.Generate(ctx, Request{Operation: "diagnosis", Payload: json.RawMessage("{ \"q\" : 1 }\n")})
	if err != nil {
		t.Fatalf("second: %v", err)
	}

	if !second.Cached {
		t.Error("second call not served from cache")
	}
	if fc.callCount() != 1 {
		t.Errorf("completer calls = %d, want 1", fc.callCount())
	}
	if second.GenerationID != first.GenerationID || second.Key != first.Key {
		t.Errorf("cached result differs: %+v vs %+v", second, first)
	}
	if len(st.gens) != 1 {
		t.Errorf("stored %d generations, want 1", len(st.gens))
	}
}

func TestGenerate_CallerEditsDoNotReachCache(t *testing.T) {
	svc, _, _ := newTestService(diagnosisOutput)
	ctx := context.Background()
	req := Request{Operation: "diagnosis", Payload: json.RawMessage(`{"q":1}`)}

	first, err := svc.Generate(ctx, req)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	want := slices.Clone(first.Sections)
	first.Sections[0].Content = "edited by caller"
	first.Sections[0].Title = ""

	second, err := svc.Generate(ctx, req)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !second.Cached {
		t.Fatal("second call not served from cache")
	}
	if diff := cmp.Diff(want, second.Sections); diff != "" {
		t.Errorf("cached sections changed (-want +got):\n%s", diff)
	}
}

func TestGenerate_ForceRegenerates(t *testing.T) {
	svc, fc, st := newTestService(diagnosisOutput)
	ctx := context.Background()
	req := Request{Operation: "diagnosis", Payload: json.RawMessage(`{"q":1}`)}

	svc.Generate(ctx, req)
	req.Force = true
	res, err := svc.Generate(ctx, req)
	if err != nil {
		t.Fatalf("forced: %v", err)
	}
	if res.Cached {
		t.Error("forced call reported cached")
	}
	if fc.callCount() != 2 {
		t.Errorf("completer calls = %d, want 2", fc.callCount())
	}
	if len(st.gens) != 2 {
		t.Errorf("stored %d generations, want 2", len(st.gens))
	}
}

func TestGenerate_UpstreamFailureNotCached(t *testing.T) {
	svc, fc, st := newTestService(diagnosisOutput)
	ctx := context.Background()
	req := Request{Operation: "diagnosis", Payload: json.RawMessage(`{"q":1}`)}

	boom := errors.New("timeout")
	fc.err = boom
	_, err := svc.Generate(ctx, req)

	var ue *UpstreamError
	if !errors.As(err, &ue) || ue.Operation != "diagnosis" {
		t.Fatalf("err = %v, want *UpstreamError", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("upstream cause lost: %v", err)
	}
	if len(st.gens) != 0 {
		t.Errorf("failure was persisted: %+v", st.gens)
	}

	fc.err = nil
	res, err := svc.Generate(ctx, req)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.Cached || fc.callCount() != 2 {
		t.Errorf("retry cached=%v calls=%d, want fresh call", res.Cached, fc.callCount())
	}
}

func TestGenerate_ForceFailureKeepsPreviousResult(t *testing.T) {
	svc, fc, _ := newTestService(diagnosisOutput)
	ctx := context.Background()
	req := Request{Operation: "diagnosis", Payload: json.RawMessage(`{"q":1}`)}

	first, err := svc.Generate(ctx, req)
	if err != nil {
		t.Fatalf("first: %v", err)
	}

	fc.err = errors.New("rate limited")
	forced := req
	forced.Force = true
	if _, err := svc.Generate(ctx, forced); err == nil {
		t.Fatal("forced failure must surface an error")
	}

	fc.err = nil
	again, err := svc.Generate(ctx, req)
	if err != nil {
		t.Fatalf("again: %v", err)
	}
	if !again.Cached || again.GenerationID != first.GenerationID {
		t.Errorf("previous entry lost: %+v", again)
	}
}

func TestGenerate_DelimitedProposal(t *testing.T) {
	out := "###SCOPE###\nNew site\n###SCOPE###\n###TIMELINE###\n6 weeks\n###TIMELINE###\n###NEXT_STEPS###Sign\n###NEXT_STEPS###"
	svc, _, _ := newTestService(out)

	res, err := svc.Generate(context.Background(), Request{Operation: "proposal", Payload: json.RawMessage(`{"client":"Acme"}`)})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if diff := cmp.Diff([]string{"Scope", "Timeline", "Next Steps"}, sections.Titles(res.Sections)); diff != "" {
		t.Errorf("titles mismatch (-want +got):\n%s", diff)
	}
	if res.Printable.Field("timeline") != "6 weeks" || res.Printable.Field("next_step") != "Sign" {
		t.Errorf("printable = %+v", res.Printable.Fields)
	}
	if diff := cmp.Diff([]string{"deliverables", "investment"}, res.Printable.Missing()); diff != "" {
		t.Errorf("missing mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerate_ResponseWithoutVocabulary(t *testing.T) {
	svc, _, _ := newTestService("## Answer\nYes.\n## Why\nBecause.")
	res, err := svc.Generate(context.Background(), Request{Operation: "response", Payload: json.RawMessage(`"is it worth it?"`)})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Printable != nil {
		t.Error("response operation has no vocabulary")
	}
	if diff := cmp.Diff([]string{"Answer", "Why"}, sections.Titles(res.Sections)); diff != "" {
		t.Errorf("titles mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerate_StoreFailureIsNotFatal(t *testing.T) {
	svc, _, st := newTestService(diagnosisOutput)
	st.err = errors.New("disk full")

	res, err := svc.Generate(context.Background(), Request{Operation: "diagnosis", Payload: json.RawMessage(`{"q":1}`)})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.GenerationID != "" {
		t.Errorf("GenerationID = %q, want empty", res.GenerationID)
	}
	if len(res.Sections) != 4 {
		t.Errorf("sections = %d", len(res.Sections))
	}
}

func TestGenerate_NilStore(t *testing.T) {
	fc := &fakeCompleter{text: "plain answer"}
	svc := NewService(fc, nil, nil, nil)
	res, err := svc.Generate(context.Background(), Request{Operation: "response", Payload: json.RawMessage(`{"q":1}`)})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := []sections.Section{{ID: sections.FallbackID, Title: sections.FallbackTitle, Content: "plain answer"}}
	if diff := cmp.Diff(want, res.Sections); diff != "" {
		t.Errorf("sections mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerate_RequestErrors(t *testing.T) {
	svc, fc, _ := newTestService(diagnosisOutput)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"unknown operation", Request{Operation: "horoscope", Payload: json.RawMessage(`{}`)}, ErrUnknownOperation},
		{"empty payload", Request{Operation: "diagnosis"}, ErrEmptyPayload},
		{"null payload", Request{Operation: "diagnosis", Payload: json.RawMessage(" null ")}, ErrEmptyPayload},
		{"invalid payload", Request{Operation: "diagnosis", Payload: json.RawMessage(`{"q":`)}, ErrInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Generate(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if fc.callCount() != 0 {
		t.Errorf("completer called %d times for invalid requests", fc.callCount())
	}
}

func TestGenerate_OperationsDoNotShareEntries(t *testing.T) {
	svc, fc, _ := newTestService(`[{"title":"A","content":"x"}]`)
	ctx := context.Background()
	payload := json.RawMessage(`{"q":1}`)

	a, _ := svc.Generate(ctx, Request{Operation: "process_organization", Payload: payload})
	b, _ := svc.Generate(ctx, Request{Operation: "lead_generation", Payload: payload})
	if a.Key == b.Key {
		t.Errorf("keys collided: %q", a.Key)
	}
	if b.Cached || fc.callCount() != 2 {
		t.Errorf("second operation served from first's entry")
	}
}

// --- Registry ---

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()

	names := make([]string, 0)
	for _, op := range r.List() {
		names = append(names, op.Name)
		if op.Namespace != op.Name {
			t.Errorf("%s namespace = %q", op.Name, op.Namespace)
		}
	}
	want := []string{"diagnosis", "lead_generation", "process_organization", "proposal", "response"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("operations mismatch (-want +got):\n%s", diff)
	}

	if err := r.Register(Operation{Name: "diagnosis"}); err == nil {
		t.Error("duplicate name accepted")
	}
	if err := r.Register(Operation{Name: "diag2", Namespace: "diagnosis"}); err == nil {
		t.Error("duplicate namespace accepted")
	}
	if err := r.Register(Operation{}); err == nil {
		t.Error("empty name accepted")
	}
	if err := r.Register(Operation{Name: "custom"}); err != nil {
		t.Fatalf("Register custom: %v", err)
	}
	if op, ok := r.Lookup("custom"); !ok || op.Namespace != "custom" {
		t.Errorf("Lookup custom = %+v, %v", op, ok)
	}
}

func TestSystemPrompt(t *testing.T) {
	if got := systemPrompt(Operation{System: "a", Format: "b"}); got != "a\n\nb" {
		t.Errorf("systemPrompt = %q", got)
	}
	if got := systemPrompt(Operation{Format: "b"}); got != "b" {
		t.Errorf("systemPrompt = %q", got)
	}
}
