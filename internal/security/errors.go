// Package security audits the permissions of the files sshtunnel and
// OpenSSH rely on, and keeps sensitive paths out of user-facing errors.
package security

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ClassifiedError separates a user-safe message from verbose debug details.
type ClassifiedError struct {
	UserSafe    string
	DebugDetail string
	Err         error
}

func (e *ClassifiedError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.UserSafe) == "" {
		return "operation failed"
	}
	return e.UserSafe
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// NewClassifiedError creates a new error with separated user-safe and debug details.
func NewClassifiedError(userSafe, debugDetail string) error {
	return &ClassifiedError{UserSafe: userSafe, DebugDetail: debugDetail}
}

// Classify wraps err with a user-safe summary. The full error text becomes
// the debug detail. A nil err stays nil.
func Classify(err error, userSafe string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{UserSafe: userSafe + ": " + RedactMessage(err.Error()), DebugDetail: err.Error(), Err: err}
}

// UserMessage returns a message safe to show in CLI/TUI contexts.
func UserMessage(err error, redact bool) string {
	if err == nil {
		return ""
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		msg := ce.UserSafe
		if msg == "" {
			msg = "operation failed"
		}
		if redact {
			return RedactMessage(msg)
		}
		return msg
	}
	if redact {
		return RedactMessage(err.Error())
	}
	return err.Error()
}

// DebugMessage returns detailed error text for logs.
func DebugMessage(err error) string {
	if err == nil {
		return ""
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		if strings.TrimSpace(ce.DebugDetail) != "" {
			return ce.DebugDetail
		}
	}
	return err.Error()
}

var (
	sshFileRe    = regexp.MustCompile(`/\.ssh/[^\s:'"]+`)
	stagedFileRe = regexp.MustCompile(`sshtunnel-keys/[^\s:'"]+`)
)

// RedactMessage shortens the home directory to "~" and hides the names of
// files under .ssh and of staged key copies.
func RedactMessage(msg string) string {
	if msg == "" {
		return msg
	}
	out := msg
	if home, err := os.UserHomeDir(); err == nil && home != "" && home != "/" {
		out = strings.ReplaceAll(out, home, "~")
	}
	out = filepath.ToSlash(out)
	out = sshFileRe.ReplaceAllString(out, "/.ssh/[redacted]")
	out = stagedFileRe.ReplaceAllString(out, "sshtunnel-keys/[redacted]")
	return out
}
