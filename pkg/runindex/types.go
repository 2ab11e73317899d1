package runindex

import "github.com/cuemby/strata/pkg/value"

// State is a run's position in the lifecycle state machine (spec.md §4.9).
type State int

const (
	Active State = iota
	Paused
	Completed
	Failed
	Cancelled
	Archived
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Paused:
		return "paused"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	case Archived:
		return "archived"
	default:
		return "unknown"
	}
}

// ParseState is String's inverse.
func ParseState(s string) (State, bool) {
	switch s {
	case "active":
		return Active, true
	case "paused":
		return Paused, true
	case "completed":
		return Completed, true
	case "failed":
		return Failed, true
	case "cancelled":
		return Cancelled, true
	case "archived":
		return Archived, true
	default:
		return 0, false
	}
}

// IsTerminal reports whether s is one of the states a run does not leave
// except by archiving (spec.md §4.9: "Terminal states are {Completed,
// Failed, Cancelled, Archived)").
func (s State) IsTerminal() bool {
	switch s {
	case Completed, Failed, Cancelled, Archived:
		return true
	default:
		return false
	}
}

// transitions is the permitted-transition matrix from spec.md §4.9: no
// transitions leave a terminal state except into Archived.
var transitions = map[State]map[State]bool{
	Active:    {Paused: true, Completed: true, Failed: true, Cancelled: true},
	Paused:    {Active: true, Cancelled: true},
	Completed: {Archived: true},
	Failed:    {Archived: true},
	Cancelled: {Archived: true},
	Archived:  {},
}

// CanTransition reports whether from -> to is permitted.
func CanTransition(from, to State) bool {
	return transitions[from][to]
}

// Metadata is a run registry entry (spec.md §3.1's RunMetadata entity).
type Metadata struct {
	ID            string
	Name          string
	State         State
	Tags          []string
	ParentRunID   string
	UserMetadata  value.Value
	CreatedAt     int64
	UpdatedAt     int64
	Error         string
}
