// Package history merges the REST-fetched comment snapshot with the live
// incremental events into one chronologically ordered, duplicate-free
// list. Duplicates arise mainly when a reconnect-triggered re-fetch
// overlaps with late-arriving live events; identity is the backend-assigned
// comment id.
package history

import (
	"sort"

	"github.com/techdesk/realtime/internal/protocol"
)

// Reconciler holds the reconciled comment list for one ticket.
//
// It is not safe for concurrent use; the channel facade owns one instance
// per open channel and serializes access under its own lock, matching the
// single-dispatch model of the protocol.
type Reconciler struct {
	comments []protocol.Comment
	byID     map[int64]int // comment id -> index in comments
}

// New creates an empty Reconciler.
func New() *Reconciler {
	return &Reconciler{byID: make(map[int64]int)}
}

// Seed replaces the current list wholesale with the snapshot. Used on the
// initial load and on explicit reload. The input is copied and sorted by
// CreatedAt; the sort is stable so equal timestamps keep snapshot order.
func (r *Reconciler) Seed(comments []protocol.Comment) {
	r.comments = make([]protocol.Comment, len(comments))
	copy(r.comments, comments)

	sort.SliceStable(r.comments, func(i, j int) bool {
		return r.comments[i].CreatedAt.Before(r.comments[j].CreatedAt)
	})

	r.byID = make(map[int64]int, len(r.comments))
	for i, c := range r.comments {
		r.byID[c.ID] = i
	}
}

// ApplyIncoming inserts a newly arrived comment. If an entry with the same
// id already exists this is a no-op and ApplyIncoming returns false
// (realtime duplicate suppression). Insertion keeps CreatedAt order; a
// comment with a timestamp equal to existing entries goes after them
// (insertion order breaks ties).
func (r *Reconciler) ApplyIncoming(c protocol.Comment) bool {
	if _, ok := r.byID[c.ID]; ok {
		return false
	}

	// Find the first entry strictly later than c; insert before it.
	pos := sort.Search(len(r.comments), func(i int) bool {
		return r.comments[i].CreatedAt.After(c.CreatedAt)
	})

	r.comments = append(r.comments, protocol.Comment{})
	copy(r.comments[pos+1:], r.comments[pos:])
	r.comments[pos] = c

	for i := pos; i < len(r.comments); i++ {
		r.byID[r.comments[i].ID] = i
	}
	return true
}

// ApplyUpdate replaces the entry matching the comment's id in place,
// preserving its position. Used for the confirmation-state transition,
// where the backend re-broadcasts the full instruction. Returns false if
// no entry matches.
func (r *Reconciler) ApplyUpdate(c protocol.Comment) bool {
	i, ok := r.byID[c.ID]
	if !ok {
		return false
	}
	r.comments[i] = c
	return true
}

// Comments returns a copy of the reconciled list in chronological order.
func (r *Reconciler) Comments() []protocol.Comment {
	out := make([]protocol.Comment, len(r.comments))
	copy(out, r.comments)
	return out
}

// View returns the reconciled list without copying. Callers must not
// mutate or retain it across reconciler calls; the facade uses it to feed
// the guidance derivation on every change.
func (r *Reconciler) View() []protocol.Comment {
	return r.comments
}

// Len reports the number of reconciled comments.
func (r *Reconciler) Len() int {
	return len(r.comments)
}

// Get returns the comment with the given id, if present.
func (r *Reconciler) Get(id int64) (protocol.Comment, bool) {
	i, ok := r.byID[id]
	if !ok {
		return protocol.Comment{}, false
	}
	return r.comments[i], true
}
