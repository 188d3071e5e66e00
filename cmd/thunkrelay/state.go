package main

import (
	"log/slog"
	"maps"
	"time"

	"github.com/zircuit-labs/zkr-go-thunk/action"
)

// Counts tallies the lifecycle of one operation type.
type Counts struct {
	Started  int `json:"started"`
	Done     int `json:"done"`
	Failed   int `json:"failed"`
	InFlight int `json:"in_flight"`
}

// Summary is the store state: lifecycle counts per operation type.
type Summary struct {
	Operations map[string]Counts `json:"operations"`
	Other      int               `json:"other"`
	LastType   string            `json:"last_type,omitempty"`
}

func reduce(s Summary, a action.Action) Summary {
	base, phase := action.Lifecycle(a)
	next := Summary{
		Operations: maps.Clone(s.Operations),
		Other:      s.Other,
		LastType:   a.Type,
	}
	if next.Operations == nil {
		next.Operations = map[string]Counts{}
	}

	counts := next.Operations[base]
	switch phase {
	case action.PhaseStarted:
		counts.Started++
		counts.InFlight++
	case action.PhaseDone:
		counts.Done++
		counts.InFlight = max(counts.InFlight-1, 0)
	case action.PhaseFailed:
		counts.Failed++
		counts.InFlight = max(counts.InFlight-1, 0)
	default:
		next.Other++
		return next
	}
	next.Operations[base] = counts
	return next
}

// deps is the extra value handed to operations.
type deps struct {
	logger *slog.Logger
	now    func() time.Time
}

func newDeps(logger *slog.Logger) *deps {
	return &deps{logger: logger, now: time.Now}
}
