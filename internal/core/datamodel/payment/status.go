package payment

// Status is the unified payment status both providers are folded into.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// IsTerminal reports whether no further automatic transition occurs from
// this status. completed is terminal for polling purposes even though
// refunded is still reachable from it.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired, StatusCancelled, StatusRefunded:
		return true
	default:
		return false
	}
}

// Refundable reports whether a refund may be opened against a payment in
// this status.
func (s Status) Refundable() bool {
	return s == StatusCompleted
}

// CanTransitionTo encodes the one-way state machine. Every edge is
// irreversible; completed -> refunded is the only transition out of a
// terminal status.
func (s Status) CanTransitionTo(target Status) bool {
	switch s {
	case StatusPending:
		return target == StatusProcessing || target == StatusCompleted ||
			target == StatusFailed || target == StatusExpired || target == StatusCancelled
	case StatusProcessing:
		return target == StatusCompleted || target == StatusFailed ||
			target == StatusExpired || target == StatusCancelled
	case StatusCompleted:
		return target == StatusRefunded
	default:
		return false
	}
}
