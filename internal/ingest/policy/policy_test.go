package policy

import (
	"errors"
	"testing"

	"github.com/corray333/order-ingest/internal/service/models/envelope"
	"github.com/corray333/order-ingest/internal/service/models/failure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const maxRetries = 3

func TestOnDecodeFailure_DeadLettersImmediately(t *testing.T) {
	p := New(maxRetries)

	d := p.OnDecodeFailure(envelope.Envelope{}, errors.New("unexpected end of JSON input"))

	assert.Equal(t, ActionDeadLetter, d.Action)
	assert.Equal(t, 0, d.Attempt)
	assert.Equal(t, []string{"unexpected end of JSON input"}, d.Errors)
}

func TestOnValidationFailure_RequeuesUntilBound(t *testing.T) {
	p := New(maxRetries)

	for attempt := 0; attempt < maxRetries; attempt++ {
		d := p.OnValidationFailure(envelope.Envelope{Attempt: attempt}, []string{"bad"})

		assert.Equal(t, ActionRequeue, d.Action, "attempt %d", attempt)
		assert.Equal(t, attempt+1, d.Attempt, "attempt %d", attempt)
	}

	d := p.OnValidationFailure(envelope.Envelope{Attempt: maxRetries}, []string{"bad"})
	assert.Equal(t, ActionDeadLetter, d.Action)
}

func TestMessageLifecycle_BoundedRetryThenDeadLetter(t *testing.T) {
	// A message failing validation on every delivery is requeued exactly
	// maxRetries times and dead-lettered on the next delivery.
	p := New(maxRetries)

	env := envelope.Envelope{}
	requeues := 0

	for {
		d := p.OnValidationFailure(env, []string{"bad"})
		if d.Action == ActionDeadLetter {
			break
		}

		require.Equal(t, ActionRequeue, d.Action)
		requeues++
		require.LessOrEqual(t, requeues, maxRetries, "requeued past the bound")

		// The requeued message comes back with the incremented counter.
		env = envelope.Envelope{Attempt: d.Attempt, History: d.Errors}
	}

	assert.Equal(t, maxRetries, requeues)
}

func TestOnValidationFailure_AccumulatesHistory(t *testing.T) {
	p := New(maxRetries)

	d := p.OnValidationFailure(
		envelope.Envelope{Attempt: 1, History: []string{"first"}},
		[]string{"second", "third"},
	)

	assert.Equal(t, []string{"first", "second", "third"}, d.Errors)
}

func TestOnValidationFailure_DoesNotMutateEnvelopeHistory(t *testing.T) {
	p := New(maxRetries)

	// A history slice with spare capacity must not be written through: two
	// decisions built from the same envelope stay independent.
	history := make([]string, 1, 4)
	history[0] = "first"
	env := envelope.Envelope{Attempt: 1, History: history}

	first := p.OnValidationFailure(env, []string{"second"})
	second := p.OnValidationFailure(env, []string{"third"})

	assert.Equal(t, []string{"first", "second"}, first.Errors)
	assert.Equal(t, []string{"first", "third"}, second.Errors)
	assert.Equal(t, []string{"first"}, env.History)
}

func TestOnPersistenceFailure(t *testing.T) {
	p := New(maxRetries)

	t.Run("transient goes to broker redelivery", func(t *testing.T) {
		d := p.OnPersistenceFailure(
			envelope.Envelope{Attempt: 2},
			failure.Transient(errors.New("connection reset")),
		)

		assert.Equal(t, ActionRedeliver, d.Action)
		// Infrastructure failures are not counted against the bound.
		assert.Equal(t, 2, d.Attempt)
	})

	t.Run("permanent is treated like a validation failure", func(t *testing.T) {
		d := p.OnPersistenceFailure(
			envelope.Envelope{},
			failure.Permanent(errors.New("value out of range")),
		)

		assert.Equal(t, ActionRequeue, d.Action)
		assert.Equal(t, 1, d.Attempt)
		assert.Equal(t, []string{"value out of range"}, d.Errors)
	})

	t.Run("permanent at the bound dead-letters", func(t *testing.T) {
		d := p.OnPersistenceFailure(
			envelope.Envelope{Attempt: maxRetries},
			failure.Permanent(errors.New("value out of range")),
		)

		assert.Equal(t, ActionDeadLetter, d.Action)
	})

	t.Run("unclassified defaults to permanent", func(t *testing.T) {
		d := p.OnPersistenceFailure(
			envelope.Envelope{Attempt: maxRetries},
			errors.New("who knows"),
		)

		assert.Equal(t, ActionDeadLetter, d.Action)
	})
}

func TestOnSuccess_Acks(t *testing.T) {
	assert.Equal(t, ActionAck, New(maxRetries).OnSuccess().Action)
}
