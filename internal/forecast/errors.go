package forecast

import "errors"

// Acquisition failure taxonomy. Engine-local failures resolve to one of
// these; none terminates the process. The orchestrator consumes them as
// an explicit no-data outcome.
var (
	// ErrCredentialInvalid: upstream rejected the acquisition credential
	// and the reload budget is exhausted.
	ErrCredentialInvalid = errors.New("forecast: credential rejected by upstream")

	// ErrGlobalTimeout: the rendered-page hard wall-clock ceiling elapsed.
	ErrGlobalTimeout = errors.New("forecast: global fetch timeout exceeded")

	// ErrInvalidResponse: an HTTP 200 body that is not a report
	// (invalid JSON or no results key). Never retried.
	ErrInvalidResponse = errors.New("forecast: invalid response format")

	// ErrUpstreamClient: an HTTP 4xx disposition. Never retried.
	ErrUpstreamClient = errors.New("forecast: upstream client error")

	// ErrAttemptsExhausted: transient failures outlasted the retry budget.
	ErrAttemptsExhausted = errors.New("forecast: retry attempts exhausted")
)
