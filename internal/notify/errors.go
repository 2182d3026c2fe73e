package notify

import (
	"fmt"
	"net/http"

	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

func transientError(op, msg string, err error) error {
	return utils.TransientIOError(op, msg, err)
}

func configError(op, msg string) error {
	return utils.ConfigurationError(op, msg)
}

func statusError(op string, code int, status string) error {
	err := fmt.Errorf("remote returned %s", status)
	if code == http.StatusTooManyRequests || code >= 500 {
		return utils.TransientIOError(op, "delivery rejected", err)
	}
	return utils.NewAppError(op, "delivery rejected", err)
}
