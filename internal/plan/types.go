// Package plan holds the persisted training-state documents the
// coordination layer moves around, the store keys they live under, and the
// schema validation applied to AI-generated program revisions.
package plan

import (
	"encoding/json"
	"fmt"
)

// Store keys for the three persisted domain documents.
const (
	// KeyProgram holds the active training Program.
	KeyProgram = "training_program"
	// KeyLogs holds the workout log history ([]LogEntry).
	KeyLogs = "workout_logs"
	// KeyCycleState holds the periodization record (CycleState).
	KeyCycleState = "periodization_state"
)

// Program is the active training plan: an ordered set of weekly sessions
// with prescribed set schemes. AI adaptation rewrites this document.
type Program struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Weeks       int       `json:"weeks"`
	DaysPerWeek int       `json:"daysPerWeek"`
	Phase       string    `json:"phase"`
	Sessions    []Session `json:"sessions"`
	Notes       string    `json:"notes,omitempty"`
}

// Session is one training day within a program.
type Session struct {
	Day       int        `json:"day"`
	Name      string     `json:"name"`
	Exercises []Exercise `json:"exercises"`
}

// Exercise is one prescribed movement with its set scheme.
// Reps is a single number ("5") or a range ("8-12").
type Exercise struct {
	Name    string  `json:"name"`
	Sets    int     `json:"sets"`
	Reps    string  `json:"reps"`
	RPE     float64 `json:"rpe,omitempty"`
	LoadPct float64 `json:"loadPct,omitempty"`
}

// LogEntry records one performed workout.
type LogEntry struct {
	Date    string         `json:"date"`
	Session string         `json:"session"`
	Sets    []PerformedSet `json:"sets"`
	Notes   string         `json:"notes,omitempty"`
}

// PerformedSet is one completed set within a logged workout.
type PerformedSet struct {
	Exercise string  `json:"exercise"`
	Reps     int     `json:"reps"`
	Weight   float64 `json:"weight"`
	RPE      float64 `json:"rpe,omitempty"`
}

// CycleState is the periodization record: where the lifter is in the
// current training cycle.
type CycleState struct {
	Week          int    `json:"week"`
	Phase         string `json:"phase"`
	TotalSessions int    `json:"totalSessions"`
	LastDeload    string `json:"lastDeload,omitempty"`
	UpdatedAt     string `json:"updatedAt,omitempty"`
}

// Clone returns a structural copy sharing no memory with p.
// The scheduler's fallback snapshot depends on this being a true deep copy.
func (p *Program) Clone() *Program {
	if p == nil {
		return nil
	}
	out := *p
	out.Sessions = make([]Session, len(p.Sessions))
	for i, s := range p.Sessions {
		cs := s
		cs.Exercises = append([]Exercise(nil), s.Exercises...)
		out.Sessions[i] = cs
	}
	return &out
}

// DecodeProgram converts an executor output into a *Program. Accepts the
// shapes an AI executor realistically returns: a typed *Program, raw JSON
// bytes, or any JSON-marshalable value (such as a decoded map).
func DecodeProgram(output any) (*Program, error) {
	switch v := output.(type) {
	case *Program:
		if v == nil {
			return nil, fmt.Errorf("plan: nil program")
		}
		return v, nil
	case Program:
		return &v, nil
	case json.RawMessage:
		return unmarshalProgram([]byte(v))
	case []byte:
		return unmarshalProgram(v)
	case string:
		return unmarshalProgram([]byte(v))
	default:
		data, err := json.Marshal(output)
		if err != nil {
			return nil, fmt.Errorf("plan: encode output: %w", err)
		}
		return unmarshalProgram(data)
	}
}

func unmarshalProgram(data []byte) (*Program, error) {
	var p Program
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("plan: decode program: %w", err)
	}
	return &p, nil
}

// DecodeLogs converts the persisted workout_logs document into entries.
// A nil document decodes to an empty history.
func DecodeLogs(data json.RawMessage) ([]LogEntry, error) {
	if data == nil {
		return nil, nil
	}
	var logs []LogEntry
	if err := json.Unmarshal(data, &logs); err != nil {
		return nil, fmt.Errorf("plan: decode workout logs: %w", err)
	}
	return logs, nil
}

// DecodeCycleState converts the persisted periodization document.
// A nil document decodes to the zero state.
func DecodeCycleState(data json.RawMessage) (CycleState, error) {
	var st CycleState
	if data == nil {
		return st, nil
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("plan: decode cycle state: %w", err)
	}
	return st, nil
}
