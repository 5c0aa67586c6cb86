// Package classify maps exec results to success or typed failure, including
// the domain heuristics for vmrun's password-related error strings.
package classify

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"vmgate/internal/sshexec"
)

// RemoteExitError is a non-zero exit status with no output to show.
type RemoteExitError struct {
	Status uint32
}

func (e *RemoteExitError) Error() string {
	return "remote command exited with status " + FormatStatus(e.Status)
}

// RemoteOutputError is a non-zero exit status where the remote produced
// output; the trimmed output is the message.
type RemoteOutputError struct {
	Status uint32
	Output string
}

func (e *RemoteOutputError) Error() string { return e.Output }

// Outcome decides success or failure for an exec result. Success iff the
// exit status is absent or zero.
func Outcome(res *sshexec.Result) error {
	if res.ExitStatus == nil || *res.ExitStatus == 0 {
		return nil
	}
	trimmed := strings.TrimSpace(res.Output)
	if trimmed == "" {
		return &RemoteExitError{Status: *res.ExitStatus}
	}
	return &RemoteOutputError{Status: *res.ExitStatus, Output: trimmed}
}

// FormatStatus renders an exit status as unsigned, appending the signed
// reinterpretation in parentheses when a remote shell reported a wrapped
// negative value.
func FormatStatus(status uint32) string {
	if status > math.MaxInt32 {
		return fmt.Sprintf("%d (%d)", status, int32(status))
	}
	return strconv.FormatUint(uint64(status), 10)
}

// Phrases vmrun emits (observed on English and Simplified Chinese hosts)
// when a VM is encrypted or password-protected. Best-effort: vendor strings
// change across releases, so callers treat a non-match as a generic failure.
var needsPasswordHints = []string{
	"encrypted", "protection", "requires", "need", "not correct", "incorrect",
}

var needsPasswordPhrasesZH = []string{
	"需要密码", "需要输入密码", "输入密码", "已加密", "密码保护",
	"密码不正确", "密码错误",
}

var wrongPasswordPhrasesZH = []string{
	"密码不正确", "密码错误",
}

// NeedsPassword reports whether failure text indicates the VM wants a
// password (either none was given, or the given one was rejected).
func NeedsPassword(text string) bool {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "password") {
		for _, hint := range needsPasswordHints {
			if strings.Contains(lower, hint) {
				return true
			}
		}
	}
	for _, phrase := range needsPasswordPhrasesZH {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

// PasswordRejected reports whether failure text indicates a supplied
// password was wrong, as opposed to missing.
func PasswordRejected(text string) bool {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "password") &&
		(strings.Contains(lower, "incorrect") || strings.Contains(lower, "not correct")) {
		return true
	}
	for _, phrase := range wrongPasswordPhrasesZH {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}
