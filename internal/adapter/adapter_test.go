package adapter

import (
	"errors"
	"testing"

	"github.com/nulpointcorp/llm-bench/internal/model"
)

func TestRegistry_KnownKindsRegisterViaInit(t *testing.T) {
	kinds := map[string]bool{}
	for _, k := range Kinds() {
		kinds[k] = true
	}
	for _, want := range []string{"openai", "triton", "anthropic"} {
		if !kinds[want] {
			t.Errorf("expected %q to self-register via init(), registered kinds: %v", want, Kinds())
		}
	}
}

func TestNew_UnknownKind(t *testing.T) {
	_, err := New("does-not-exist", Config{})
	if err == nil {
		t.Fatal("expected an error for an unregistered adapter kind")
	}
}

func TestError_MessageIncludesStatusCodeWhenPresent(t *testing.T) {
	e := &Error{Kind: model.ErrorKindHTTPStatus, StatusCode: 503, Err: errors.New("unavailable")}
	if got := e.Error(); got == "" {
		t.Fatal("expected a non-empty error message")
	}
	if e.Unwrap() == nil {
		t.Fatal("Unwrap should return the wrapped error")
	}
}
