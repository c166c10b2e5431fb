package dispatch

import (
	"fmt"
	"strings"

	"github.com/L1ghtError/LimbWorker/errors"
)

// FailurePolicy decides how a task that ended with a Fail frame is settled.
// Parse failures and backpressure always reject regardless of policy.
type FailurePolicy string

const (
	// FailReject lets the broker redeliver failed tasks.
	FailReject FailurePolicy = "reject"
	// FailAck treats a Fail frame as the final answer.
	FailAck FailurePolicy = "ack"
)

// ParseFailurePolicy accepts "reject" or "ack", case-insensitively. Empty
// means FailReject.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return FailReject, nil
	case FailReject, FailAck:
		return p, nil
	default:
		return "", fmt.Errorf("failure policy %q: %w", s, errors.ErrInvalidConfig)
	}
}

func (p FailurePolicy) settle(s *Settlement) error {
	if p == FailAck {
		return s.Ack()
	}
	return s.Reject()
}
