package watch

// Status is the lifecycle state of a watch Session.
type Status int32

const (
	StatusPending Status = iota
	StatusSatisfied
	StatusTimedOut
	StatusCancelled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSatisfied:
		return "satisfied"
	case StatusTimedOut:
		return "timed_out"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Done reports whether the session reached a terminal state.
func (s Status) Done() bool { return s != StatusPending }
