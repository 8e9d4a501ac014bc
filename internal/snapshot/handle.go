package snapshot

import (
	"sync/atomic"

	apperrors "github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/errors"
)

// Handle is one reader's reference to a snapshot. It stays valid, and the
// snapshot stays alive, until Release.
type Handle struct {
	snap     *Snapshot
	released atomic.Bool
}

func newHandle(s *Snapshot) *Handle {
	return &Handle{snap: s}
}

// Release gives the reference back. A second call returns ErrHandleReleased.
func (h *Handle) Release() error {
	if !h.released.CompareAndSwap(false, true) {
		return apperrors.ErrHandleReleased
	}
	h.snap.DecRef()
	return nil
}

func (h *Handle) Released() bool { return h.released.Load() }

func (h *Handle) Generation() uint64 { return h.snap.generation }

// Snapshot returns the held snapshot, or ErrHandleReleased.
func (h *Handle) Snapshot() (*Snapshot, error) {
	if h.released.Load() {
		return nil, apperrors.ErrHandleReleased
	}
	return h.snap, nil
}
