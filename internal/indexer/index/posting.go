package index

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/document"
	apperrors "github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/errors"
)

// NumericEntry is one (value, doc) pair of an integer field. Entries are
// sorted by Value, ties by DocID.
type NumericEntry struct {
	Value int64       `json:"v"`
	DocID document.ID `json:"d"`
}

// BuildError reports why a batch could not be turned into a segment.
type BuildError struct {
	Reason string
	DocID  document.ID
	Field  string
}

func (e *BuildError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: doc %d field %q: %s", apperrors.ErrIndexBuild, e.DocID, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s", apperrors.ErrIndexBuild, e.Reason)
}

func (e *BuildError) Unwrap() error {
	return apperrors.ErrIndexBuild
}
