package tool

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func constHandler(out string) Handler {
	return func(context.Context, map[string]any) (string, error) {
		return out, nil
	}
}

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Register(Descriptor{Name: "echo", Handler: constHandler("a")}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	desc, ok := reg.Resolve("echo")
	if !ok {
		t.Fatal("Resolve(echo) = false, want true")
	}
	out, _ := desc.Handler(context.Background(), nil)
	if out != "a" {
		t.Fatalf("handler output = %q, want a", out)
	}

	if _, ok := reg.Resolve("missing"); ok {
		t.Fatal("Resolve(missing) = true, want false")
	}
	for _, name := range []string{" echo ", "echo\n", "Echo"} {
		if _, ok := reg.Resolve(name); ok {
			t.Fatalf("Resolve(%q) = true, want exact-name match only", name)
		}
	}
}

func TestRegistryOverwritesDuplicate(t *testing.T) {
	reg := NewRegistry()
	replaced, err := reg.Register(Descriptor{Name: "echo", Handler: constHandler("first")})
	if err != nil || replaced {
		t.Fatalf("first Register() = (%v, %v), want (false, nil)", replaced, err)
	}
	replaced, err = reg.Register(Descriptor{Name: "echo", Handler: constHandler("second")})
	if err != nil || !replaced {
		t.Fatalf("second Register() = (%v, %v), want (true, nil)", replaced, err)
	}

	desc, _ := reg.Resolve("echo")
	out, _ := desc.Handler(context.Background(), nil)
	if out != "second" {
		t.Fatalf("handler output = %q, want second", out)
	}
	if got := len(reg.List()); got != 1 {
		t.Fatalf("len(List()) = %d, want 1", got)
	}
}

func TestRegistryRejectsInvalidDescriptors(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Register(Descriptor{Name: "  ", Handler: constHandler("")}); !errors.Is(err, ErrEmptyToolName) {
		t.Fatalf("empty name error = %v, want ErrEmptyToolName", err)
	}
	if _, err := reg.Register(Descriptor{Name: "x"}); !errors.Is(err, ErrNilHandler) {
		t.Fatalf("nil handler error = %v, want ErrNilHandler", err)
	}
}

func TestBuiltinRegistryHasExactlyTwoTools(t *testing.T) {
	reg, err := NewBuiltinRegistry(BuiltinConfig{})
	if err != nil {
		t.Fatalf("NewBuiltinRegistry() error = %v", err)
	}
	list := reg.List()
	if len(list) != 2 {
		t.Fatalf("len(List()) = %d, want 2", len(list))
	}
	if list[0].Name != FetchURLToolName || list[1].Name != SummarizeToolName {
		t.Fatalf("names = [%s %s], want [fetch_url summarize]", list[0].Name, list[1].Name)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = reg.Register(Descriptor{Name: "echo", Handler: constHandler("x")})
		}()
		go func() {
			defer wg.Done()
			reg.Resolve("echo")
			reg.List()
		}()
	}
	wg.Wait()
	if _, ok := reg.Resolve("echo"); !ok {
		t.Fatal("Resolve(echo) = false after concurrent registration")
	}
}
