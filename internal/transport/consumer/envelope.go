package consumer

import (
	"strconv"
	"strings"

	"github.com/corray333/order-ingest/internal/ingest/policy"
	"github.com/corray333/order-ingest/internal/service/models/envelope"
	"github.com/streadway/amqp"
)

const (
	headerRetryCount      = "x-retry-count"
	headerError           = "x-error"
	headerOriginalMessage = "x-original-message"

	historySeparator = "; "
)

// envelopeFromDelivery reads the retry state off the delivery headers.
// A missing counter means a fresh message.
func envelopeFromDelivery(msg amqp.Delivery) envelope.Envelope {
	env := envelope.Envelope{Payload: msg.Body}

	if v, ok := msg.Headers[headerRetryCount]; ok {
		env.Attempt = headerInt(v)
	}

	if v, ok := msg.Headers[headerError].(string); ok && v != "" {
		env.History = strings.Split(v, historySeparator)
	}

	return env
}

// headerInt copes with the integer widths the AMQP field table may carry.
func headerInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0
		}

		return i
	default:
		return 0
	}
}

// requeuePublishing rebuilds the original message for the tail of the live
// queue, with the incremented attempt counter and the error history so far.
func requeuePublishing(body []byte, d policy.Decision) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Headers: amqp.Table{
			headerRetryCount: int32(d.Attempt),
			headerError:      strings.Join(d.Errors, historySeparator),
		},
	}
}

// deadLetterPublishing carries the original bytes unchanged plus the error
// metadata an operator needs to inspect and replay the message.
func deadLetterPublishing(body []byte, d policy.Decision) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Headers: amqp.Table{
			headerRetryCount:      int32(d.Attempt),
			headerError:           strings.Join(d.Errors, historySeparator),
			headerOriginalMessage: string(body),
		},
	}
}
