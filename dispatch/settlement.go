package dispatch

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/L1ghtError/LimbWorker/errors"
	"github.com/L1ghtError/LimbWorker/metric"
)

// Outcome is how a delivery was settled.
type Outcome int

const (
	Unsettled Outcome = iota
	Acked
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Acked:
		return "ack"
	case Rejected:
		return "reject"
	default:
		return "unsettled"
	}
}

// ErrAlreadySettled is returned by the second settlement of a delivery.
var ErrAlreadySettled = fmt.Errorf("delivery already settled: %w", errors.ErrAlreadyExists)

// Settler sends the broker side of a settlement.
type Settler interface {
	Ack(delivery string) error
	Nak(delivery string) error
}

// Settlement guards one delivery so that exactly one of ack or reject reaches
// the broker.
type Settlement struct {
	settler  Settler
	delivery string
	metrics  *metric.Metrics

	mu      sync.Mutex
	outcome Outcome
}

// NewSettlement creates the guard for delivery. metrics may be nil.
func NewSettlement(settler Settler, delivery string, metrics *metric.Metrics) *Settlement {
	return &Settlement{settler: settler, delivery: delivery, metrics: metrics}
}

// Ack acknowledges the delivery.
func (s *Settlement) Ack() error { return s.settle(Acked) }

// Reject negatively acknowledges the delivery so the broker may redeliver it.
func (s *Settlement) Reject() error { return s.settle(Rejected) }

// Finish rejects the delivery unless it was already settled. Handlers defer
// it so every return path settles.
func (s *Settlement) Finish() error {
	err := s.settle(Rejected)
	if stderrors.Is(err, ErrAlreadySettled) {
		return nil
	}
	return err
}

// Outcome reports the settlement so far.
func (s *Settlement) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

func (s *Settlement) settle(o Outcome) error {
	s.mu.Lock()
	if s.outcome != Unsettled {
		s.mu.Unlock()
		return ErrAlreadySettled
	}
	s.outcome = o
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.Settlements.WithLabelValues(o.String()).Inc()
	}
	if o == Acked {
		return s.settler.Ack(s.delivery)
	}
	return s.settler.Nak(s.delivery)
}
