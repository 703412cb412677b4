package sched

import "fmt"

// Priority orders operations in the queue. Lower values are more urgent.
//
// Priority also fixes the retry budget: urgent work is retried harder
// because a failed critical mutation (a migration, a corrupted-state
// repair) is worse than a failed background refresh.
type Priority int

const (
	// PriorityCritical is reserved for data migrations and state repair.
	PriorityCritical Priority = iota
	// PriorityHigh covers user-facing mutations such as AI plan adaptations.
	PriorityHigh
	// PriorityNormal covers routine writes such as workout logging.
	PriorityNormal
	// PriorityLow covers background refreshes that may be dropped.
	PriorityLow
)

// MaxRetries returns the retry budget for the priority:
// CRITICAL=3, HIGH=2, NORMAL=1, LOW=0.
func (p Priority) MaxRetries() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// Valid reports whether p is one of the four defined levels.
func (p Priority) Valid() bool {
	return p >= PriorityCritical && p <= PriorityLow
}

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	case PriorityLow:
		return "LOW"
	default:
		return fmt.Sprintf("Priority(%d)", int(p))
	}
}

// ParsePriority converts the wire/scenario spelling back to a Priority.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "CRITICAL":
		return PriorityCritical, nil
	case "HIGH":
		return PriorityHigh, nil
	case "NORMAL":
		return PriorityNormal, nil
	case "LOW":
		return PriorityLow, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}
