// Package core defines the provider agnostic conversation model shared by all
// evalmesh components: messages, roles and the closed set of content parts
// (text, image, tool call, tool response).
//
// The package is pure data. Provider adapters translate parts into their own
// wire shapes; the JSON projection produced by Message.MarshalJSON is only used
// for persisted transcripts.
package core
