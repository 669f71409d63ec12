// Package faults defines the error taxonomy shared by the capture and
// recognition layers. Every failure surfaced to callers carries a
// machine-readable code, a user-facing message, a recoverable flag and a
// remediation hint, so collaborators never have to parse error strings.
package faults

import (
	"errors"
	"fmt"
)

// Code identifies a failure class.
type Code string

const (
	CodePermissionDenied   Code = "permission_denied"
	CodeDeviceNotFound     Code = "device_not_found"
	CodeDeviceInUse        Code = "device_in_use"
	CodeOverconstrained    Code = "overconstrained"
	CodeNoSpeech           Code = "no_speech"
	CodeNetwork            Code = "network_failure"
	CodeServiceUnavailable Code = "service_unavailable"
	CodeSessionAborted     Code = "session_aborted"
	CodeSessionBusy        Code = "session_busy"
	CodeUnknown            Code = "unknown"
)

// Fault is a typed, user-presentable error.
type Fault struct {
	Code        Code
	Message     string
	Hint        string
	Recoverable bool
	Cause       error
}

func (f *Fault) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Code, f.Message, f.Cause)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func (f *Fault) Unwrap() error { return f.Cause }

// New builds a Fault with canonical message, hint and recoverability for the
// given code. The cause may be nil.
func New(code Code, cause error) *Fault {
	f := &Fault{Code: code, Cause: cause}
	switch code {
	case CodePermissionDenied:
		f.Message = "microphone access was denied"
		f.Hint = "allow microphone access and try again"
	case CodeDeviceNotFound:
		f.Message = "no audio input device was found"
		f.Hint = "connect a microphone and try again"
	case CodeDeviceInUse:
		f.Message = "the audio input device is busy"
		f.Hint = "close other applications using the microphone"
	case CodeOverconstrained:
		f.Message = "the audio device cannot satisfy the requested settings"
		f.Hint = "retry with default capture settings"
	case CodeNoSpeech:
		f.Message = "no speech was detected"
		f.Hint = "speak a little louder and try again"
		f.Recoverable = true
	case CodeNetwork:
		f.Message = "the recognition service could not be reached"
		f.Hint = "check the network connection"
		f.Recoverable = true
	case CodeServiceUnavailable:
		f.Message = "the recognition service is unavailable"
		f.Hint = "another engine will be tried"
	case CodeSessionAborted:
		f.Message = "the session was cancelled"
		f.Recoverable = true
	case CodeSessionBusy:
		f.Message = "another capture or recognition session is already active"
		f.Hint = "finish or cancel the current session first"
	default:
		f.Code = CodeUnknown
		f.Message = "an unexpected error occurred"
		f.Recoverable = true
	}
	return f
}

// CodeOf extracts the fault code from err, or CodeUnknown when err carries
// no taxonomy information.
func CodeOf(err error) Code {
	var f *Fault
	if errors.As(err, &f) {
		return f.Code
	}
	return CodeUnknown
}

// Recoverable reports whether err allows the caller to retry or degrade
// instead of failing the whole operation. Unknown errors default to
// recoverable so an unclassified failure never blocks practice.
func Recoverable(err error) bool {
	var f *Fault
	if errors.As(err, &f) {
		return f.Recoverable
	}
	return true
}
