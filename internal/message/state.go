// ABOUTME: Explicit delivery-state machine for optimistic sends.
// ABOUTME: Pending -> {Delivered | Failed}; both outcomes are terminal.

package message

// DeliveryState is the client-only lifecycle of a message. It is never
// serialized to the server; messages received from the server are always
// Delivered.
type DeliveryState int

const (
	// StateDelivered is the state of every server-acknowledged message.
	StateDelivered DeliveryState = iota
	// StatePending marks an optimistic placeholder that has not yet been
	// confirmed by the send endpoint or a realtime echo.
	StatePending
	// StateFailed marks a placeholder whose send was rejected. The entry
	// stays visible; a resend creates a fresh placeholder.
	StateFailed
)

// CanTransition reports whether the state machine permits moving from s to
// next. Delivered and Failed are terminal.
func (s DeliveryState) CanTransition(next DeliveryState) bool {
	return s == StatePending && (next == StateDelivered || next == StateFailed)
}

func (s DeliveryState) String() string {
	switch s {
	case StateDelivered:
		return "delivered"
	case StatePending:
		return "pending"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
