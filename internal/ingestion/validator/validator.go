// Package validator checks ingestion requests against the field schema
// before they are published, so the indexer rarely sees a document it has
// to drop.
package validator

import (
	"errors"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/field"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/ingestion"
)

const (
	maxFields            = 64
	maxFieldNameLength   = 128
	maxKeywordLength     = 32 << 10
	maxIdempotencyLength = 255
	maxBatchSize         = 1000
)

// ValidateIngestRequest coerces the request's fields with the schema and
// applies size limits. Failures come back as a *field.ValidationError, which
// matches apperrors.ErrValidation. The schema is only read, never extended.
func ValidateIngestRequest(req *ingestion.IngestRequest, schema *field.Schema) error {
	errs := make(map[string]string)
	switch {
	case len(req.Fields) == 0:
		errs["_document"] = "document has no fields"
	case len(req.Fields) > maxFields:
		errs["_document"] = fmt.Sprintf("document has %d fields, at most %d allowed", len(req.Fields), maxFields)
	}
	if len(req.IdempotencyKey) > maxIdempotencyLength {
		errs["idempotency_key"] = fmt.Sprintf("idempotency key must be at most %d characters", maxIdempotencyLength)
	}
	for name := range req.Fields {
		if name == "" {
			errs["_document"] = "field name must not be empty"
		} else if len(name) > maxFieldNameLength {
			errs[name] = fmt.Sprintf("field name must be at most %d characters", maxFieldNameLength)
		}
	}
	if len(errs) > 0 {
		return &field.ValidationError{Fields: errs}
	}

	values, err := schema.Coerce(req.Fields)
	if err != nil {
		return err
	}
	for name, v := range values {
		if s, ok := v.Text(); ok && len(s) > maxKeywordLength {
			errs[name] = fmt.Sprintf("keyword must be at most %d bytes", maxKeywordLength)
		}
	}
	if len(errs) > 0 {
		return &field.ValidationError{Fields: errs}
	}
	return nil
}

// ValidateBatch validates every document and reports failures keyed by the
// document's position in the batch.
func ValidateBatch(batch *ingestion.IngestBatch, schema *field.Schema) error {
	if len(batch.Documents) == 0 {
		return &field.ValidationError{Fields: map[string]string{"documents": "documents must not be empty"}}
	}
	if len(batch.Documents) > maxBatchSize {
		return &field.ValidationError{Fields: map[string]string{
			"documents": fmt.Sprintf("at most %d documents per request", maxBatchSize),
		}}
	}
	errs := make(map[string]string)
	for i := range batch.Documents {
		err := ValidateIngestRequest(&batch.Documents[i], schema)
		var verr *field.ValidationError
		if !errors.As(err, &verr) {
			continue
		}
		for name, msg := range verr.Fields {
			errs[fmt.Sprintf("documents[%d].%s", i, name)] = msg
		}
	}
	if len(errs) > 0 {
		return &field.ValidationError{Fields: errs}
	}
	return nil
}
