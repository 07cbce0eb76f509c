// Package artifact persists run artifacts such as the message_log.json
// transcript written when an agent loop terminates.
//
// Artifacts are scoped by run identifier. Store is the contract consumed by
// the agent loop and runner; this package provides a local directory backend
// (FileStore) and an in process backend (InMemoryStore). The s3 subpackage
// adds an Amazon S3 backend.
package artifact
