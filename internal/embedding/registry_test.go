package embedding

import (
	"errors"
	"testing"
)

func TestRegistry_LazyOnce(t *testing.T) {
	r := NewRegistry()
	calls := 0
	err := r.Register("mock", func() (Embedder, error) {
		calls++
		return NewMockEmbedder(4), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Error("factory ran at registration time")
	}

	a, err := r.Get("mock")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := r.Get("mock")
	if a != b {
		t.Error("two Gets constructed two embedders")
	}
	if calls != 1 {
		t.Errorf("factory ran %d times", calls)
	}
}

func TestRegistry_DuplicateName(t *testing.T) {
	r := NewRegistry()
	_ = r.Register("mock", func() (Embedder, error) { return NewMockEmbedder(4), nil })
	if err := r.Register("mock", func() (Embedder, error) { return NewMockEmbedder(4), nil }); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

func TestRegistry_UnknownName(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("nope"); err == nil {
		t.Error("expected error for unknown embedder")
	}
}

func TestRegistry_FailureRemembered(t *testing.T) {
	r := NewRegistry()
	calls := 0
	boom := errors.New("model missing")
	_ = r.Register("onnx", func() (Embedder, error) {
		calls++
		return nil, boom
	})

	_, err1 := r.Get("onnx")
	_, err2 := r.Get("onnx")
	if !errors.Is(err1, boom) || !errors.Is(err2, boom) {
		t.Errorf("got %v, %v", err1, err2)
	}
	if calls != 1 {
		t.Errorf("failed factory retried %d times", calls)
	}
}

func TestRegistry_CloseOnlyConstructed(t *testing.T) {
	r := NewRegistry()
	_ = r.Register("used", func() (Embedder, error) { return NewMockEmbedder(4), nil })
	_ = r.Register("untouched", func() (Embedder, error) {
		t.Error("untouched factory ran")
		return nil, nil
	})
	if _, err := r.Get("used"); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
}
