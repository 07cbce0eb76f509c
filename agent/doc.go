// Package agent implements the tool execution loop that drives one task to
// completion against a configured model.
//
// A Loop owns nothing but its options: the dispatcher (model routing and
// retries) and the tool registry are injected. Each Run produces a
// Transcript which is persisted once, on termination, through an
// artifact.Store.
//
// Termination, whichever comes first:
//   - the model calls end_task (or guided steps run out)
//   - no pending request is left
//   - the step ceiling is reached
//   - dispatch fails terminally
//   - the context is canceled
package agent
