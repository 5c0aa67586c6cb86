package ops

import "errors"

// Sentinel results of the auto start/stop credential flow. Callers react to
// these (prompt for a password) instead of displaying raw remote text.
var (
	// ErrPasswordRequired means the VM is password-protected and no
	// password is stored for it.
	ErrPasswordRequired = errors.New("VM requires a password and none is stored; add one with 'vmgate password set'")

	// ErrPasswordInvalid means the stored password was rejected by the VM.
	ErrPasswordInvalid = errors.New("stored VM password was rejected; update it with 'vmgate password set'")
)
