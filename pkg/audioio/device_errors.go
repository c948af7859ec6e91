package audioio

import (
	"fmt"
	"strings"
)

// classifyDeviceError maps the backend message onto our two capture failures.
// miniaudio reports a denied OS permission as a generic init failure, the text is all we get.
func classifyDeviceError(what string, err error) error {
	message := strings.ToLower(err.Error())
	if strings.Contains(message, "permission") || strings.Contains(message, "denied") || strings.Contains(message, "access") {
		return fmt.Errorf("%w: %s: %v", ErrPermissionDenied, what, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, what, err)
}
