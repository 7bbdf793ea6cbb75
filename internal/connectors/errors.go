package connectors

import (
	"errors"
	"fmt"

	"connsync/internal/internalid"
)

// ErrorType is the reason code recorded on a connector when a sync fails.
type ErrorType string

const (
	ErrorTypeOAuthTokenRevoked     ErrorType = "oauth_token_revoked"
	ErrorTypeConnectionNotReadOnly ErrorType = "remote_database_connection_not_readonly"
	ErrorTypeThirdPartyInternal    ErrorType = "third_party_internal_error"
	ErrorTypeInvalidInternalID     ErrorType = "invalid_internal_id"
	ErrorTypeInvariantViolation    ErrorType = "invariant_violation"
	ErrorTypeDocumentStore         ErrorType = "document_store_error"
)

var (
	// ErrConnectionNotReadOnly means the warehouse credentials can write.
	ErrConnectionNotReadOnly = errors.New("remote database connection is not read-only")

	// ErrInvariant marks logic bugs. Never retried.
	ErrInvariant = errors.New("invariant violation")

	ErrHierarchyCycle    = fmt.Errorf("%w: hierarchy cycle", ErrInvariant)
	ErrUnknownKind       = fmt.Errorf("%w: unknown node kind", ErrInvariant)
	ErrConnectorNotFound = errors.New("connector not found")
)

// ProviderErrorKind classifies failures returned by provider API clients.
type ProviderErrorKind string

const (
	ProviderErrorTransient   ProviderErrorKind = "transient"
	ProviderErrorRateLimited ProviderErrorKind = "rate_limited"
	ProviderErrorAuthRevoked ProviderErrorKind = "auth_revoked"
	ProviderErrorNotFound    ProviderErrorKind = "not_found"
	ProviderErrorPermanent   ProviderErrorKind = "permanent"
)

// ProviderError is returned by provider API clients.
type ProviderError struct {
	Provider string
	Kind     ProviderErrorKind
	Status   int
	Code     string
	Err      error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s api error: kind=%s status=%d", e.Provider, e.Kind, e.Status)
	if e.Code != "" {
		msg += " code=" + e.Code
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

func providerKind(err error) (ProviderErrorKind, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}

// IsNotFound reports whether err means the remote entity no longer exists.
func IsNotFound(err error) bool {
	kind, ok := providerKind(err)
	return ok && kind == ProviderErrorNotFound
}

// IsAuthRevoked reports whether err means the provider credentials were revoked.
func IsAuthRevoked(err error) bool {
	kind, ok := providerKind(err)
	return ok && kind == ProviderErrorAuthRevoked
}

// StoreError wraps a document store failure.
type StoreError struct {
	Op  string
	ID  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("document store %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsPermanent reports whether err must not be retried by the orchestration layer.
func IsPermanent(err error) bool {
	switch ErrorTypeOf(err) {
	case ErrorTypeOAuthTokenRevoked, ErrorTypeConnectionNotReadOnly,
		ErrorTypeInvalidInternalID, ErrorTypeInvariantViolation:
		return true
	}
	kind, ok := providerKind(err)
	return ok && kind == ProviderErrorPermanent
}

// ErrorTypeOf maps err to the reason code recorded by SyncFailed.
func ErrorTypeOf(err error) ErrorType {
	var invalidID *internalid.InvalidInternalIDError
	var storeErr *StoreError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConnectionNotReadOnly):
		return ErrorTypeConnectionNotReadOnly
	case IsAuthRevoked(err):
		return ErrorTypeOAuthTokenRevoked
	case errors.As(err, &invalidID):
		return ErrorTypeInvalidInternalID
	case errors.Is(err, ErrInvariant):
		return ErrorTypeInvariantViolation
	case errors.As(err, &storeErr):
		return ErrorTypeDocumentStore
	}
	return ErrorTypeThirdPartyInternal
}
