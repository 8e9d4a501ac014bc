// Package ingestion defines the request/response types and Kafka event schema
// used by the document ingestion pipeline.
package ingestion

import "time"

// StatusAccepted means the document is queued on the ingest topic but not
// yet indexed.
const StatusAccepted = "ACCEPTED"

// IngestRequest is one document accepted by the ingestion HTTP endpoint.
// Fields holds the raw values; the indexer coerces them against its schema.
type IngestRequest struct {
	Fields         map[string]any `json:"fields"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// IngestBatch is the JSON body of POST /api/v1/documents.
type IngestBatch struct {
	Documents []IngestRequest `json:"documents"`
}

// IngestResponse is returned to the caller after a document is accepted.
type IngestResponse struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
}

// IngestEvent is the Kafka message payload consumed by the indexer.
type IngestEvent struct {
	EventID    string         `json:"event_id"`
	Fields     map[string]any `json:"fields"`
	IngestedAt time.Time      `json:"ingested_at"`
}
