package enginemanager

import "errors"

var (
	// ErrUnknownVariant is returned when an operation names a variant_id
	// not present in the registry, or present but belonging to a different
	// kind than this Manager owns.
	ErrUnknownVariant = errors.New("enginemanager: unknown variant")

	// ErrCannotDisableDefault is returned by SetEnabled(false) on a
	// synthesis-kind variant that is currently the default (spec §9:
	// disabling the default is forbidden outright for TTS/synthesis kind).
	ErrCannotDisableDefault = errors.New("enginemanager: cannot disable the default synthesis variant")

	// ErrNotRunning is returned by Health and other calls that need an
	// engine endpoint on a variant with no runtime entry; Stop on such a
	// variant returns nil.
	ErrNotRunning = errors.New("enginemanager: variant is not running")

	// ErrHealthTimeout is returned by Start when /health never reports
	// ready or loading before the start timeout elapses.
	ErrHealthTimeout = errors.New("enginemanager: engine did not become healthy before start timeout")
)
