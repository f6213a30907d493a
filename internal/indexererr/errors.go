// Package indexererr defines the sentinel error taxonomy shared across the
// indexer. Call sites wrap these with github.com/pkg/errors to attach
// context; callers that need to branch on kind use errors.Is.
package indexererr

import "errors"

var (
	// ErrNoHealthyEndpoints is returned when every configured RPC endpoint
	// for a chain has exhausted its connection/subscription retries.
	ErrNoHealthyEndpoints = errors.New("no healthy RPC endpoints available")

	// ErrNotConnected is returned when an operation requires a live
	// transport but the ChainConnection has none.
	ErrNotConnected = errors.New("connection not established")

	// ErrCircuitBreakerOpen names the case of a write suppressed because the
	// circuit breaker is gating traffic. The listener skips such writes
	// without returning an error, so no call site currently returns it.
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")

	// ErrUnknownEvent is returned by the decoder when no declared ABI event
	// matches a raw log's topic-0 signature.
	ErrUnknownEvent = errors.New("unknown event")

	// ErrStorageError wraps a persistence failure that survived the local
	// retry budget in process_event.
	ErrStorageError = errors.New("storage error")

	// ErrSubscriptionError wraps a transport-level subscription failure.
	ErrSubscriptionError = errors.New("subscription error")

	// ErrMissingEnvVar is returned at startup when a required environment
	// variable is absent.
	ErrMissingEnvVar = errors.New("required environment variable not found")

	// ErrConfigFileNotFound is returned when EVM_INDEXER_CONFIG_PATH points
	// at a path that doesn't exist.
	ErrConfigFileNotFound = errors.New("configuration file not found")

	// ErrAbiFileNotFound is returned when EVM_INDEXER_ABI_PATH points at a
	// path that doesn't exist.
	ErrAbiFileNotFound = errors.New("ABI file not found")

	// ErrInvalidAddress is returned when a contract address fails to parse
	// as a 20-byte hex value.
	ErrInvalidAddress = errors.New("invalid address format")

	// ErrInvalidRpcType is returned when an RPC endpoint's rpc_type is
	// neither "ws" nor "http".
	ErrInvalidRpcType = errors.New("invalid RPC type specified")
)
