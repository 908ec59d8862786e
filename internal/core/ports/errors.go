package ports

import "errors"

// Error kinds named in spec.md §7. Each is tagged at the point of
// origin; frame-level errors are swallowed after an increment and never
// reach these sentinels.
var (
	ErrRadioUnavailable = errors.New("radio unavailable")
	ErrFrameSourceLost  = errors.New("frame source lost")
	ErrCaptureTimeout   = errors.New("capture timeout")
	ErrBusy             = errors.New("busy: a state transition is already in flight")
	ErrNoTarget         = errors.New("no target set")
	ErrInvalidMode      = errors.New("invalid mode")
	ErrPersistenceFail  = errors.New("persistence failure")
)
