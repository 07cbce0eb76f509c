// Package dispatch routes a conversation to one configured model and
// retries failed calls.
//
// Adapters are built lazily through a factory registry keyed by provider tag
// and cached per model name. Retry is an explicit bounded loop:
//
//	HTTP 429        -> wait RateLimitDelay, retry, budget untouched
//	timeout         -> wait RetryDelay, counts as failure
//	transport error -> wait RetryDelay, counts as failure
//	other error     -> wait GenericRetryDelay, counts as failure
//
// After MaxAttempts counted failures Ask returns a Result whose Error field
// carries a model readable message instead of an error value.
package dispatch
