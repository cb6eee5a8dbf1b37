package policy

import (
	"github.com/corray333/order-ingest/internal/service/models/envelope"
	"github.com/corray333/order-ingest/internal/service/models/failure"
)

// Action is what the consumer must do with a delivery after processing.
type Action int

const (
	// ActionAck acknowledges the delivery; processing is finished.
	ActionAck Action = iota
	// ActionRequeue acknowledges the original and republishes it to the
	// tail of the live queue with an incremented attempt counter.
	ActionRequeue
	// ActionDeadLetter acknowledges the original and publishes it to the
	// dead-letter queue with its error history.
	ActionDeadLetter
	// ActionRedeliver rejects the delivery back to the broker so its own
	// redelivery mechanism retries it. Used for transient infrastructure
	// failures, which are not attributable to the message content and are
	// therefore not counted against the attempt bound.
	ActionRedeliver
)

// Decision tells the consumer how to settle a delivery.
type Decision struct {
	Action  Action
	Attempt int
	Errors  []string
}

// Policy decides between requeue, dead-letter and broker redelivery for a
// failed message, based on the attempt counter carried on its envelope.
type Policy struct {
	maxRetries int
}

// New creates a Policy. maxRetries bounds how often a message failing on its
// own content is requeued before it is dead-lettered; it keeps head-of-line
// blocking by a single bad message bounded while tolerating brief upsets.
func New(maxRetries int) *Policy {
	return &Policy{maxRetries: maxRetries}
}

// OnDecodeFailure handles malformed transport payloads. Decoding is
// deterministic, so retrying can never help: straight to the dead-letter
// queue on the first delivery.
func (p *Policy) OnDecodeFailure(env envelope.Envelope, err error) Decision {
	return Decision{
		Action:  ActionDeadLetter,
		Attempt: env.Attempt,
		Errors:  appendHistory(env.History, err.Error()),
	}
}

// OnValidationFailure requeues the message with an incremented attempt
// counter until the retry bound is reached, then dead-letters it with the
// accumulated error list.
func (p *Policy) OnValidationFailure(env envelope.Envelope, errs []string) Decision {
	history := appendHistory(env.History, errs...)

	if env.Attempt >= p.maxRetries {
		return Decision{
			Action:  ActionDeadLetter,
			Attempt: env.Attempt,
			Errors:  history,
		}
	}

	return Decision{
		Action:  ActionRequeue,
		Attempt: env.Attempt + 1,
		Errors:  history,
	}
}

// OnPersistenceFailure routes transient infrastructure failures to broker
// redelivery and treats permanent ones like validation failures.
func (p *Policy) OnPersistenceFailure(env envelope.Envelope, err error) Decision {
	if failure.KindOf(err) == failure.KindTransient {
		return Decision{
			Action:  ActionRedeliver,
			Attempt: env.Attempt,
		}
	}

	return p.OnValidationFailure(env, []string{err.Error()})
}

// OnSuccess acknowledges the delivery; the attempt counter is discarded.
func (p *Policy) OnSuccess() Decision {
	return Decision{Action: ActionAck}
}

// appendHistory never appends in place: the envelope's history belongs to
// the caller and must not be mutated through a shared backing array.
func appendHistory(history []string, errs ...string) []string {
	out := make([]string, 0, len(history)+len(errs))
	out = append(out, history...)

	return append(out, errs...)
}
