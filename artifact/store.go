package artifact

import "context"

// TranscriptName is the artifact name of a serialized agent loop transcript.
const TranscriptName = "message_log.json"

// Store defines artifact persistence. Implementations must be safe for
// concurrent use and scope artifacts by run identifier. An empty runID
// addresses the store root.
type Store interface {
	Save(ctx context.Context, runID, name string, data []byte) error
	Get(ctx context.Context, runID, name string) ([]byte, error)
	List(ctx context.Context, runID string) ([]string, error)
	Delete(ctx context.Context, runID, name string) error
}
