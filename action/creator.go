package action

import "reflect"

// Creator builds actions of a single type whose payload is a P.
type Creator[P any] struct {
	actionType string
	isError    bool
	meta       Meta
}

// NewCreator registers name with f and returns a creator for it.
// meta is merged into every action after the factory's common meta.
func NewCreator[P any](f *Factory, name string, meta Meta) Creator[P] {
	return newCreator[P](f, f.TypeOf(name), false, meta)
}

func newCreator[P any](f *Factory, actionType string, isError bool, meta Meta) Creator[P] {
	f.register(actionType)
	return Creator[P]{
		actionType: actionType,
		isError:    isError,
		meta:       mergeMeta(f.opts.commonMeta, meta),
	}
}

// Type returns the action type produced by c.
func (c Creator[P]) Type() string {
	return c.actionType
}

// String implements fmt.Stringer.
func (c Creator[P]) String() string {
	return c.actionType
}

// New creates an action with payload p.
func (c Creator[P]) New(p P) Action {
	return c.NewWithMeta(p, nil)
}

// NewWithMeta creates an action with payload p, merging meta over the
// creator's own meta.
func (c Creator[P]) NewWithMeta(p P, meta Meta) Action {
	return Action{
		Type:    c.actionType,
		Payload: p,
		Error:   c.isError,
		Meta:    mergeMeta(c.meta, meta),
	}
}

// Match reports whether a was produced by a creator of the same type.
func (c Creator[P]) Match(a Action) bool {
	return a.Type == c.actionType
}

// Payload returns the payload of a if a matches c and holds a P.
// A missing payload is the zero P only when P can itself be nil, such as an
// interface or pointer; for any other P it does not match.
func (c Creator[P]) Payload(a Action) (P, bool) {
	var zero P
	if !c.Match(a) {
		return zero, false
	}
	if a.Payload == nil {
		return zero, nilable[P]()
	}
	p, ok := a.Payload.(P)
	return p, ok
}

func nilable[P any]() bool {
	switch reflect.TypeFor[P]().Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		return true
	default:
		return false
	}
}
