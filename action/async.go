package action

import (
	"encoding/json"
	"errors"
	"strings"
)

const (
	StartedSuffix = "_STARTED"
	DoneSuffix    = "_DONE"
	FailedSuffix  = "_FAILED"
)

// Success is the payload of a done action.
type Success[P, R any] struct {
	Params P `json:"params"`
	Result R `json:"result"`
}

// Failure is the payload of a failed action. Error holds the exact value
// returned by the operation.
type Failure[P any] struct {
	Params P     `json:"params"`
	Error  error `json:"error"`
}

type failureJSON[P any] struct {
	Params P       `json:"params"`
	Error  *string `json:"error"`
}

// MarshalJSON encodes Error as its message.
func (f Failure[P]) MarshalJSON() ([]byte, error) {
	out := failureJSON[P]{Params: f.Params}
	if f.Error != nil {
		msg := f.Error.Error()
		out.Error = &msg
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes Error as a plain error holding the message.
func (f *Failure[P]) UnmarshalJSON(data []byte) error {
	var in failureJSON[P]
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	f.Params = in.Params
	f.Error = nil
	if in.Error != nil {
		f.Error = errors.New(*in.Error)
	}
	return nil
}

// AsyncCreators is the family of three creators announcing the lifecycle of
// one kind of asynchronous operation.
type AsyncCreators[P, R any] struct {
	// Type is the shared base type, without suffix.
	Type    string
	Started Creator[P]
	Done    Creator[Success[P, R]]
	Failed  Creator[Failure[P]]
}

// NewAsync registers the family for name with f. The resulting types are
// <type>_STARTED, <type>_DONE and <type>_FAILED. Failed actions carry the
// error marker.
func NewAsync[P, R any](f *Factory, name string, meta Meta) AsyncCreators[P, R] {
	base := f.TypeOf(name)
	return AsyncCreators[P, R]{
		Type:    base,
		Started: newCreator[P](f, base+StartedSuffix, false, meta),
		Done:    newCreator[Success[P, R]](f, base+DoneSuffix, false, meta),
		Failed:  newCreator[Failure[P]](f, base+FailedSuffix, true, meta),
	}
}

// Match reports whether a belongs to this family, whatever its phase.
func (a AsyncCreators[P, R]) Match(act Action) bool {
	return a.Started.Match(act) || a.Done.Match(act) || a.Failed.Match(act)
}

// Phase is the lifecycle step announced by an action.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseStarted
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseStarted:
		return "started"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return "none"
	}
}

// Lifecycle splits the type of a into the base type and the phase it
// announces, judged by suffix. A failed phase also requires the error
// marker. Actions outside any family return PhaseNone and their full type.
func Lifecycle(a Action) (string, Phase) {
	switch {
	case strings.HasSuffix(a.Type, StartedSuffix):
		return strings.TrimSuffix(a.Type, StartedSuffix), PhaseStarted
	case strings.HasSuffix(a.Type, DoneSuffix):
		return strings.TrimSuffix(a.Type, DoneSuffix), PhaseDone
	case strings.HasSuffix(a.Type, FailedSuffix) && a.Error:
		return strings.TrimSuffix(a.Type, FailedSuffix), PhaseFailed
	default:
		return a.Type, PhaseNone
	}
}
