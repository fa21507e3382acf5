//go:build !unix

package diskbuilder

import "strings"

// isOutOfSpaceError reports whether err means the target ran out of space.
func isOutOfSpaceError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no space left") || strings.Contains(msg, "insufficient space")
}
