package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/field"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/errors"
)

func testSchema() *field.Schema {
	return field.NewSchema(map[string]field.Kind{
		"num": field.KindInteger,
		"val": field.KindKeyword,
	})
}

func TestValidateIngestRequest(t *testing.T) {
	tests := []struct {
		name      string
		req       ingestion.IngestRequest
		wantField string
	}{
		{"valid", ingestion.IngestRequest{Fields: map[string]any{"num": float64(3), "val": "value3"}}, ""},
		{"numeric string", ingestion.IngestRequest{Fields: map[string]any{"num": "42"}}, ""},
		{"undeclared field", ingestion.IngestRequest{Fields: map[string]any{"extra": "x"}}, ""},
		{"no fields", ingestion.IngestRequest{}, "_document"},
		{"empty name", ingestion.IngestRequest{Fields: map[string]any{"": "x"}}, "_document"},
		{"bad integer", ingestion.IngestRequest{Fields: map[string]any{"num": "seven"}}, "num"},
		{"keyword not string", ingestion.IngestRequest{Fields: map[string]any{"val": float64(1)}}, "val"},
		{"long keyword", ingestion.IngestRequest{Fields: map[string]any{"val": strings.Repeat("x", maxKeywordLength+1)}}, "val"},
		{"long key", ingestion.IngestRequest{Fields: map[string]any{"val": "x"}, IdempotencyKey: strings.Repeat("k", 256)}, "idempotency_key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIngestRequest(&tt.req, testSchema())
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, apperrors.ErrValidation)
			var verr *field.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.wantField)
		})
	}
}

func TestValidateDoesNotExtendSchema(t *testing.T) {
	schema := testSchema()
	require.NoError(t, ValidateIngestRequest(&ingestion.IngestRequest{Fields: map[string]any{"extra": "x"}}, schema))
	_, ok := schema.Kind("extra")
	assert.False(t, ok)
}

func TestValidateBatch(t *testing.T) {
	schema := testSchema()
	err := ValidateBatch(&ingestion.IngestBatch{}, schema)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	batch := &ingestion.IngestBatch{Documents: []ingestion.IngestRequest{
		{Fields: map[string]any{"num": 1}},
		{Fields: map[string]any{"num": "x"}},
	}}
	err = ValidateBatch(batch, schema)
	var verr *field.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"documents[1].num"}, keys(verr.Fields))

	batch.Documents = batch.Documents[:1]
	assert.NoError(t, ValidateBatch(batch, schema))
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
