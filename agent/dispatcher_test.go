package agent

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/petal-labs/agentrelay/bus"
	"github.com/petal-labs/agentrelay/tool"
)

// recordingPublisher captures published events in order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []bus.Event
}

func (p *recordingPublisher) Publish(e bus.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) snapshot() []bus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bus.Event(nil), p.events...)
}

func (p *recordingPublisher) forRequest(id string) []bus.Event {
	var out []bus.Event
	for _, e := range p.snapshot() {
		if e.RequestID == id {
			out = append(out, e)
		}
	}
	return out
}

type recordingObserver struct {
	mu           sync.Mutex
	observations []Observation
}

func (o *recordingObserver) ObserveDispatch(obs Observation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observations = append(o.observations, obs)
}

func newTestDispatcher(t *testing.T, reg *tool.Registry, pub bus.Publisher, obs Observer) *Dispatcher {
	t.Helper()
	var n atomic.Int64
	d, err := NewDispatcher(Config{
		Registry: reg,
		Events:   pub,
		Observer: obs,
		NewRequestID: func() string {
			return "req-" + strconv.FormatInt(n.Add(1), 10)
		},
	})
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	return d
}

// builtinsWithCounter returns the built-in registry whose HTTP client counts
// outbound requests.
func builtinsWithCounter(t *testing.T, endpoint string) (*tool.Registry, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	client := &http.Client{Transport: countingTransport{calls: &calls, next: http.DefaultTransport}}
	reg, err := tool.NewBuiltinRegistry(tool.BuiltinConfig{
		Fetch:     tool.FetchConfig{Client: client},
		Summarize: tool.SummarizeConfig{Endpoint: endpoint, Client: client},
	})
	if err != nil {
		t.Fatalf("NewBuiltinRegistry() error = %v", err)
	}
	return reg, &calls
}

type countingTransport struct {
	calls *atomic.Int32
	next  http.RoundTripper
}

func (c countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return c.next.RoundTrip(r)
}

func assertLifecycle(t *testing.T, events []bus.Event, terminal bus.EventType) {
	t.Helper()
	if len(events) != 2 {
		t.Fatalf("events = %d (%v), want start + one terminal", len(events), events)
	}
	if events[0].Type != bus.EventActionStart {
		t.Fatalf("first event = %s, want action_start", events[0].Type)
	}
	if events[1].Type != terminal {
		t.Fatalf("terminal event = %s, want %s", events[1].Type, terminal)
	}
}

func TestDispatchUnknownActionPublishesNothing(t *testing.T) {
	reg, calls := builtinsWithCounter(t, "")
	pub := &recordingPublisher{}
	obs := &recordingObserver{}
	d := newTestDispatcher(t, reg, pub, obs)

	for _, action := range []string{"unknown_tool", "", " fetch_url "} {
		res := d.Dispatch(context.Background(), Request{Action: action})
		if res.OK() {
			t.Fatalf("%q: OK() = true, want failure", action)
		}
		if res.Failure.Message != UnknownActionMessage {
			t.Fatalf("%q: message = %q, want %q", action, res.Failure.Message, UnknownActionMessage)
		}
		if !res.UnknownAction() {
			t.Fatalf("%q: UnknownAction() = false", action)
		}
	}

	if got := len(pub.snapshot()); got != 0 {
		t.Fatalf("published events = %d, want 0", got)
	}
	if got := len(obs.observations); got != 0 {
		t.Fatalf("observations = %d, want 0", got)
	}
	if calls.Load() != 0 {
		t.Fatalf("network calls = %d, want 0", calls.Load())
	}
}

func TestDispatchFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	reg, _ := builtinsWithCounter(t, "")
	pub := &recordingPublisher{}
	obs := &recordingObserver{}
	d := newTestDispatcher(t, reg, pub, obs)

	res := d.Dispatch(context.Background(), Request{Action: "fetch_url", Input: map[string]any{"url": srv.URL}})
	if !res.OK() {
		t.Fatalf("failure = %+v", res.Failure)
	}
	if res.Output != "hello world" {
		t.Fatalf("output = %q, want hello world", res.Output)
	}

	events := pub.forRequest(res.RequestID)
	assertLifecycle(t, events, bus.EventActionResult)
	if events[0].Input["url"] != srv.URL {
		t.Fatalf("start input echo = %v", events[0].Input)
	}
	if *events[1].Length != len("hello world") || *events[1].Preview != "hello world" {
		t.Fatalf("result length/preview = %d/%q", *events[1].Length, *events[1].Preview)
	}

	if len(obs.observations) != 1 || !obs.observations[0].Success || obs.observations[0].Action != "fetch_url" {
		t.Fatalf("observations = %+v", obs.observations)
	}
}

func TestDispatchFetch404(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	reg, _ := builtinsWithCounter(t, "")
	pub := &recordingPublisher{}
	d := newTestDispatcher(t, reg, pub, nil)

	target := srv.URL + "/nope"
	res := d.Dispatch(context.Background(), Request{Action: "fetch_url", Input: map[string]any{"url": target}})
	if res.OK() {
		t.Fatal("OK() = true, want failure")
	}
	if !strings.Contains(res.Failure.Message, "404") || !strings.Contains(res.Failure.Message, target) {
		t.Fatalf("message = %q, want 404 and %s", res.Failure.Message, target)
	}

	events := pub.forRequest(res.RequestID)
	assertLifecycle(t, events, bus.EventActionError)
	if events[1].Error != res.Failure.Message {
		t.Fatalf("error event message = %q, want %q", events[1].Error, res.Failure.Message)
	}
}

func TestDispatchValidationFailureSkipsNetwork(t *testing.T) {
	var upstream atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstream.Add(1)
		_, _ = w.Write([]byte(`{"message":{"content":"x"}}`))
	}))
	defer srv.Close()

	reg, calls := builtinsWithCounter(t, srv.URL)
	pub := &recordingPublisher{}
	d := newTestDispatcher(t, reg, pub, nil)

	cases := []Request{
		{Action: "summarize", Input: map[string]any{"text": "some text", "max_tokens": 4000.0}},
		{Action: "summarize", Input: map[string]any{"text": ""}},
		{Action: "fetch_url", Input: map[string]any{"url": "not-a-url"}},
		{Action: "fetch_url", Input: nil},
	}
	for _, req := range cases {
		res := d.Dispatch(context.Background(), req)
		if res.OK() {
			t.Fatalf("%+v: OK() = true, want validation failure", req)
		}
		if res.Failure.Code != tool.ToolErrorCodeValidationFailed {
			t.Fatalf("%+v: code = %q, want %q", req, res.Failure.Code, tool.ToolErrorCodeValidationFailed)
		}
		assertLifecycle(t, pub.forRequest(res.RequestID), bus.EventActionError)
	}

	if calls.Load() != 0 || upstream.Load() != 0 {
		t.Fatalf("network calls = %d/%d, want 0", calls.Load(), upstream.Load())
	}
}

func TestDispatchSummarizeUnconfigured(t *testing.T) {
	reg, calls := builtinsWithCounter(t, "")
	pub := &recordingPublisher{}
	d := newTestDispatcher(t, reg, pub, nil)

	res := d.Dispatch(context.Background(), Request{Action: "summarize", Input: map[string]any{"text": "abc"}})
	if res.OK() {
		t.Fatal("OK() = true, want configuration failure")
	}
	if res.Failure.Code != tool.ToolErrorCodeConfiguration || !strings.Contains(res.Failure.Message, "not set") {
		t.Fatalf("failure = %+v", res.Failure)
	}
	if calls.Load() != 0 {
		t.Fatalf("network calls = %d, want 0", calls.Load())
	}
	assertLifecycle(t, pub.forRequest(res.RequestID), bus.EventActionError)
}

func TestDispatchSummarizePreviewIsBounded(t *testing.T) {
	long := strings.Repeat("é", 500)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"` + long + `"}}]}`))
	}))
	defer srv.Close()

	reg, _ := builtinsWithCounter(t, srv.URL)
	pub := &recordingPublisher{}
	d := newTestDispatcher(t, reg, pub, nil)

	res := d.Dispatch(context.Background(), Request{Action: "summarize", Input: map[string]any{"text": "abc", "max_tokens": 64.0}})
	if !res.OK() {
		t.Fatalf("failure = %+v", res.Failure)
	}
	if res.Output != long {
		t.Fatal("output was truncated; only the event preview should be bounded")
	}

	events := pub.forRequest(res.RequestID)
	assertLifecycle(t, events, bus.EventActionResult)
	if got := []rune(*events[1].Preview); len(got) != DefaultPreviewLimit {
		t.Fatalf("preview runes = %d, want %d", len(got), DefaultPreviewLimit)
	}
	if *events[1].Length != len(long) {
		t.Fatalf("length = %d, want %d", *events[1].Length, len(long))
	}
}

func TestDispatchHandlerFaults(t *testing.T) {
	reg := tool.NewRegistry()
	_, _ = reg.Register(tool.Descriptor{
		Name: "fails",
		Handler: func(context.Context, map[string]any) (string, error) {
			return "", errors.New("plain failure")
		},
	})
	_, _ = reg.Register(tool.Descriptor{
		Name: "panics",
		Handler: func(context.Context, map[string]any) (string, error) {
			panic("kaboom")
		},
	})

	pub := &recordingPublisher{}
	obs := &recordingObserver{}
	d := newTestDispatcher(t, reg, pub, obs)

	res := d.Dispatch(context.Background(), Request{Action: "fails"})
	if res.OK() || res.Failure.Message != "plain failure" || res.Failure.Code != tool.ToolErrorCodeInvocationFailed {
		t.Fatalf("fails: result = %+v", res)
	}
	assertLifecycle(t, pub.forRequest(res.RequestID), bus.EventActionError)

	res = d.Dispatch(context.Background(), Request{Action: "panics"})
	if res.OK() || !strings.Contains(res.Failure.Message, "kaboom") {
		t.Fatalf("panics: result = %+v", res)
	}
	assertLifecycle(t, pub.forRequest(res.RequestID), bus.EventActionError)

	if len(obs.observations) != 2 {
		t.Fatalf("observations = %d, want 2", len(obs.observations))
	}
	for _, o := range obs.observations {
		if o.Success || o.ErrorCode == "" {
			t.Fatalf("observation = %+v, want failure with code", o)
		}
	}
}

func TestDispatchConcurrentPairing(t *testing.T) {
	reg := tool.NewRegistry()
	_, _ = reg.Register(tool.Descriptor{
		Name: "echo",
		Inputs: map[string]tool.FieldSpec{
			"text": {Type: tool.TypeString, Required: true},
		},
		Handler: func(_ context.Context, input map[string]any) (string, error) {
			return input["text"].(string), nil
		},
	})

	pub := &recordingPublisher{}
	d, err := NewDispatcher(Config{Registry: reg, Events: pub})
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}

	const n = 32
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res := d.Dispatch(context.Background(), Request{Action: "echo", Input: map[string]any{"text": "x"}})
			ids[i] = res.RequestID
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, id := range ids {
		if id == "" || seen[id] {
			t.Fatalf("request id %q missing or duplicated", id)
		}
		seen[id] = true
		assertLifecycle(t, pub.forRequest(id), bus.EventActionResult)
	}
}

func TestNewDispatcherRequiresRegistry(t *testing.T) {
	if _, err := NewDispatcher(Config{}); err == nil {
		t.Fatal("NewDispatcher(nil registry) error = nil")
	}
}
