package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorBadInput         = "DEBOUNCE_BAD_INPUT"
	ErrorConfigInvalid    = "DEBOUNCE_CONFIG_INVALID"
	ErrorStoreUnavailable = "DEBOUNCE_STORE_UNAVAILABLE"
	ErrorMalformedBatch   = "DEBOUNCE_MALFORMED_BATCH"
	ErrorHoldExists       = "DEBOUNCE_HOLD_EXISTS"
	ErrorNotFound         = "DEBOUNCE_NOT_FOUND"
	ErrorInternal         = "DEBOUNCE_INTERNAL_ERROR"
)

func newError(
	message string,
	category goerrors.Category,
	code int,
	textCode string,
	metadata map[string]any,
) *goerrors.Error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func wrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	textCode string,
	metadata map[string]any,
) *goerrors.Error {
	if source == nil {
		return newError(message, category, code, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func BadInputError(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryBadInput, http.StatusBadRequest, ErrorBadInput, metadata)
}

// ConfigError reports a rejected configuration value, such as a non-positive TTL.
func ConfigError(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryValidation, http.StatusBadRequest, ErrorConfigInvalid, metadata)
}

// StoreUnavailableError marks a substrate failure as retryable by the caller.
func StoreUnavailableError(source error, message string, metadata map[string]any) error {
	if IsStoreUnavailable(source) {
		return source
	}
	fields := CloneMetadata(metadata)
	fields["retryable"] = true
	return wrapError(
		source,
		goerrors.CategoryExternal,
		message,
		http.StatusServiceUnavailable,
		ErrorStoreUnavailable,
		fields,
	)
}

func MalformedBatchError(source error, conversationID string) error {
	return wrapError(
		source,
		goerrors.CategoryBadInput,
		"core: malformed queued batch",
		http.StatusUnprocessableEntity,
		ErrorMalformedBatch,
		map[string]any{"conversation_id": conversationID},
	)
}

func HoldExistsError(conversationID string) error {
	return newError(
		"core: retry hold already exists",
		goerrors.CategoryConflict,
		http.StatusConflict,
		ErrorHoldExists,
		map[string]any{"conversation_id": conversationID},
	)
}

func NotFoundError(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryNotFound, http.StatusNotFound, ErrorNotFound, metadata)
}

func DependencyError(message string) error {
	return newError(message, goerrors.CategoryInternal, http.StatusInternalServerError, ErrorInternal, nil)
}

func IsConfigError(err error) bool {
	return hasTextCode(err, ErrorConfigInvalid)
}

func IsStoreUnavailable(err error) bool {
	return hasTextCode(err, ErrorStoreUnavailable)
}

// IsRetryable reports whether the caller should retry the operation later.
func IsRetryable(err error) bool {
	return IsStoreUnavailable(err)
}

func IsMalformedBatch(err error) bool {
	return hasTextCode(err, ErrorMalformedBatch)
}

func IsHoldExists(err error) bool {
	return hasTextCode(err, ErrorHoldExists)
}

func IsNotFound(err error) bool {
	return hasTextCode(err, ErrorNotFound)
}

func hasTextCode(err error, textCode string) bool {
	if err == nil {
		return false
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich != nil {
		return strings.TrimSpace(rich.TextCode) == textCode
	}
	return false
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return ensureErrorEnvelope(rich)
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "must be"):
		return newError(err.Error(), goerrors.CategoryValidation, http.StatusBadRequest, ErrorConfigInvalid, nil)
	}
	return ensureErrorEnvelope(goerrors.MapToError(err, goerrors.DefaultErrorMappers()))
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = httpStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput:
		return ErrorBadInput
	case goerrors.CategoryValidation:
		return ErrorConfigInvalid
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryConflict:
		return ErrorHoldExists
	case goerrors.CategoryExternal:
		return ErrorStoreUnavailable
	default:
		return ErrorInternal
	}
}

func httpStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryExternal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
