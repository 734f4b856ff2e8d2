package models

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/factotum-ai/factotum/internal/config"
)

func TestCreateModelUnknownDriver(t *testing.T) {
	_, err := CreateModel(context.Background(), config.ProviderConfig{Driver: "cobol"})
	if err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if !strings.Contains(err.Error(), "unknown driver") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCreateNoDefault(t *testing.T) {
	_, err := Create(context.Background(), config.ModelsConfig{})
	if err == nil {
		t.Fatal("expected error when no default provider is set")
	}
}

func TestCreateUnknownProvider(t *testing.T) {
	_, err := Create(context.Background(), config.ModelsConfig{
		Default:   "missing",
		Providers: map[string]config.ProviderConfig{},
	})
	if err == nil {
		t.Fatal("expected error for unknown provider name")
	}
}

func TestHandleError(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"auth", "server returned 401 unauthorized", "authentication failed"},
		{"rate", "429 too many requests", "rate limited"},
		{"context", "prompt exceeds context length", "context too long"},
		{"notfound", "model not found", "model not found"},
		{"conn", "dial tcp: connection refused", "unavailable"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := HandleError(errors.New(tc.in))
			if !strings.Contains(got.Error(), tc.want) {
				t.Errorf("got %q, want prefix %q", got.Error(), tc.want)
			}
		})
	}

	if HandleError(nil) != nil {
		t.Error("nil error should pass through")
	}

	var unavail *ErrModelUnavailable
	if !errors.As(HandleError(errors.New("dial tcp: connection refused")), &unavail) {
		t.Error("connection failures should surface as *ErrModelUnavailable")
	}
}

func TestErrModelUnavailable(t *testing.T) {
	cause := errors.New("connection refused")
	err := &ErrModelUnavailable{Provider: "ollama", Cause: cause}

	var unavail *ErrModelUnavailable
	if !errors.As(err, &unavail) {
		t.Fatal("errors.As should match *ErrModelUnavailable")
	}
	if !errors.Is(err, cause) {
		t.Error("Unwrap should expose the cause")
	}
	if !strings.Contains(err.Error(), "ollama") {
		t.Errorf("error should name provider: %q", err.Error())
	}
}
