// ABOUTME: Reconciler merges history, optimistic sends, and realtime pushes
// ABOUTME: into one duplicate-free list; ids stay unique at all times.

package conversation

import (
	"github.com/plazalocal/plaza-chat/internal/dedupe"
	"github.com/plazalocal/plaza-chat/internal/message"
)

// Reconciler holds one conversation's in-memory message list and applies the
// merge rules for its three writers. It is not safe for concurrent use; the
// DetailClient serializes access.
type Reconciler struct {
	messages []message.Message
	seen     *dedupe.Cache
}

// NewReconciler creates a reconciler backed by the given seen-id cache. The
// cache may be shared across conversations; ids are globally unique.
func NewReconciler(seen *dedupe.Cache) *Reconciler {
	return &Reconciler{seen: seen}
}

// Bootstrap installs the fetched history in server order and remembers every
// server id. Any previous contents are discarded.
func (r *Reconciler) Bootstrap(history []message.Message) {
	r.messages = make([]message.Message, len(history))
	copy(r.messages, history)
	for i := range r.messages {
		r.messages[i].State = message.StateDelivered
		r.seen.Remember(r.messages[i].ID)
	}
}

// AppendPlaceholder adds an optimistic Pending placeholder at the tail. The
// message must carry a temporary id from message.NewTempID.
func (r *Reconciler) AppendPlaceholder(m message.Message) {
	m.State = message.StatePending
	r.messages = append(r.messages, m)
}

// ResolveSend applies a successful send response: the placeholder identified
// by tempID is replaced in place by the server record. If a realtime echo
// already delivered the record (its id is in the seen window or the list),
// the placeholder is dropped instead so the id stays unique.
func (r *Reconciler) ResolveSend(tempID string, delivered message.Message) {
	delivered.State = message.StateDelivered

	if r.seen.Seen(delivered.ID) || r.indexOf(delivered.ID) >= 0 {
		// Echo won the race. The placeholder was consumed by the
		// content-heuristic match; if it somehow survived, remove it.
		if i := r.indexOf(tempID); i >= 0 {
			r.messages = append(r.messages[:i], r.messages[i+1:]...)
		}
		return
	}

	r.seen.Remember(delivered.ID)
	if i := r.indexOf(tempID); i >= 0 {
		r.messages[i] = delivered
		return
	}
	// Placeholder already gone (screen rebuilt between send and response);
	// keep the acknowledged message visible.
	r.messages = append(r.messages, delivered)
}

// FailSend marks the placeholder identified by tempID as Failed. The entry
// stays in the list so the typed content remains visible.
func (r *Reconciler) FailSend(tempID string) {
	if i := r.indexOf(tempID); i >= 0 {
		if r.messages[i].State.CanTransition(message.StateFailed) {
			r.messages[i].State = message.StateFailed
		}
	}
}

// ApplyRemote merges one realtime event. Matching order:
//
//  1. exact id match: the entry is replaced by the authoritative record
//     (covers the echo arriving after our own ResolveSend);
//  2. a Pending placeholder with the same sender and text: the echo arrived
//     before our send response, replace it in place;
//  3. otherwise append at the tail.
//
// The sender+text heuristic deliberately mirrors the original contract: two
// identical texts sent in quick succession can cross-match. Returns true if
// the list changed.
func (r *Reconciler) ApplyRemote(m message.Message) bool {
	m.State = message.StateDelivered

	if i := r.indexOf(m.ID); i >= 0 {
		r.messages[i] = m
		r.seen.Remember(m.ID)
		return true
	}

	if i := r.pendingMatch(m.SenderID, m.Text); i >= 0 {
		r.messages[i] = m
		r.seen.Remember(m.ID)
		return true
	}

	r.messages = append(r.messages, m)
	r.seen.Remember(m.ID)
	return true
}

// Messages returns a copy of the current list in order.
func (r *Reconciler) Messages() []message.Message {
	out := make([]message.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Len returns the number of messages in the list.
func (r *Reconciler) Len() int {
	return len(r.messages)
}

func (r *Reconciler) indexOf(id string) int {
	for i := range r.messages {
		if r.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *Reconciler) pendingMatch(senderID, text string) int {
	for i := range r.messages {
		m := &r.messages[i]
		if m.State == message.StatePending && m.SenderID == senderID && m.Text == text {
			return i
		}
	}
	return -1
}
