package process

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
)

type sumParams struct {
	A int `json:"a"`
	B int `json:"b"`
}

type sumResult struct {
	Sum int `json:"sum"`
}

func TestRegisterTypedRoundTrip(t *testing.T) {
	r := NewRegistry()
	Register(r, NewDefinition("sum", func(_ context.Context, p sumParams) (sumResult, error) {
		return sumResult{Sum: p.A + p.B}, nil
	}))

	h, ok := r.Get("sum")
	if !ok {
		t.Fatal("handler not registered")
	}
	payload, err := h(context.Background(), []byte(`{"a": 2, "b": 40}`))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	var res sumResult
	if err := json.Unmarshal(payload, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Sum != 42 {
		t.Errorf("sum = %d, want 42", res.Sum)
	}
}

func TestRegisterEmptyParams(t *testing.T) {
	r := NewRegistry()
	Register(r, NewDefinition("defaulted", func(_ context.Context, p sumParams) (sumResult, error) {
		return sumResult{Sum: p.A + p.B}, nil
	}))

	h, _ := r.Get("defaulted")
	payload, err := h(context.Background(), nil)
	if err != nil {
		t.Fatalf("handler with nil params: %v", err)
	}
	var res sumResult
	if err := json.Unmarshal(payload, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Sum != 0 {
		t.Errorf("sum = %d, want zero value", res.Sum)
	}
}

func TestRegisterMalformedParams(t *testing.T) {
	r := NewRegistry()
	Register(r, NewDefinition("sum", func(_ context.Context, p sumParams) (sumResult, error) {
		return sumResult{}, nil
	}))

	h, _ := r.Get("sum")
	if _, err := h(context.Background(), []byte(`{"a": "two"}`)); err == nil {
		t.Fatal("expected an unmarshal error")
	}
}

func TestRegistryGetAndNames(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Get("missing"); ok {
		t.Fatal("empty registry resolved a handler")
	}

	r.RegisterFunc("alpha", func(_ context.Context, _ []byte) ([]byte, error) { return nil, nil })
	r.RegisterFunc("beta", func(_ context.Context, _ []byte) ([]byte, error) { return nil, nil })

	names := r.Names()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("names = %v", names)
	}
}

func TestGreeter(t *testing.T) {
	def := NewGreeter()

	res, err := def.Handler(context.Background(), GreeterParams{Name: "World", Message: "Nice day."})
	if err != nil {
		t.Fatalf("greeter: %v", err)
	}
	if res.Value != "Hello World! Nice day." {
		t.Errorf("value = %q", res.Value)
	}

	if _, err := def.Handler(context.Background(), GreeterParams{Name: "  "}); err == nil {
		t.Fatal("expected an error for a blank name")
	}
}

type fakeRemover struct {
	removed []string
	err     error
}

func (f *fakeRemover) Remove(_ context.Context, ref string) error {
	if f.err != nil {
		return f.err
	}
	f.removed = append(f.removed, ref)
	return nil
}

func TestResultRemover(t *testing.T) {
	store := &fakeRemover{}
	def := NewResultRemover(store)

	res, err := def.Handler(context.Background(), RemoverParams{Ref: "job-1"})
	if err != nil {
		t.Fatalf("remover: %v", err)
	}
	if res.Removed != "job-1" || len(store.removed) != 1 {
		t.Errorf("res = %+v, removed = %v", res, store.removed)
	}

	if _, err := def.Handler(context.Background(), RemoverParams{}); err == nil {
		t.Fatal("expected an error for a missing ref")
	}

	store.err = errors.New("backend down")
	if _, err := def.Handler(context.Background(), RemoverParams{Ref: "job-2"}); err == nil {
		t.Fatal("expected the store error to propagate")
	}
}
