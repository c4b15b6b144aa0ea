package core

import (
	"errors"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestErrorHelpers_TextCodes(t *testing.T) {
	if !IsConfigError(ConfigError("bad ttl", nil)) {
		t.Fatalf("expected config error detected")
	}
	storeErr := StoreUnavailableError(errors.New("dial tcp"), "append failed", map[string]any{"conversation_id": "u1"})
	if !IsStoreUnavailable(storeErr) || !IsRetryable(storeErr) {
		t.Fatalf("expected store unavailable error to be retryable")
	}
	if again := StoreUnavailableError(storeErr, "outer", nil); again != storeErr {
		t.Fatalf("expected store unavailable error passed through")
	}
	if !IsMalformedBatch(MalformedBatchError(errors.New("bad json"), "u1")) {
		t.Fatalf("expected malformed batch detected")
	}
	if !IsHoldExists(HoldExistsError("u1")) {
		t.Fatalf("expected hold exists detected")
	}
	if !IsNotFound(NotFoundError("missing", nil)) {
		t.Fatalf("expected not found detected")
	}
	if IsConfigError(errors.New("plain")) || IsRetryable(nil) {
		t.Fatalf("expected plain errors not classified")
	}
}

func TestStoreUnavailableError_Envelope(t *testing.T) {
	err := StoreUnavailableError(errors.New("dial tcp"), "append failed", nil)
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope")
	}
	if rich.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rich.Code)
	}
	if rich.Category != goerrors.CategoryExternal {
		t.Fatalf("expected external category, got %s", rich.Category)
	}
	if rich.Metadata["retryable"] != true {
		t.Fatalf("expected retryable metadata, got %#v", rich.Metadata)
	}
}

func TestDefaultErrorMapper_ClassifiesPlainErrors(t *testing.T) {
	mapped := defaultErrorMapper(errors.New("core: webhook.url is invalid"))
	if mapped == nil || mapped.TextCode != ErrorConfigInvalid {
		t.Fatalf("expected config text code, got %#v", mapped)
	}
	mapped = defaultErrorMapper(errors.New("boom"))
	if mapped == nil || mapped.Code == 0 || mapped.TextCode == "" {
		t.Fatalf("expected envelope filled, got %#v", mapped)
	}
	if defaultErrorMapper(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}
