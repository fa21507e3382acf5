//go:build unix

package diskbuilder

import (
	"errors"
	"strings"

	"golang.org/x/sys/unix"
)

// isOutOfSpaceError reports whether err means the target ran out of space.
func isOutOfSpaceError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, unix.ENOSPC) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no space left") || strings.Contains(msg, "insufficient space")
}
