package ingestsvc

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/corray333/order-ingest/internal/service/models/failure"
	"github.com/jackc/pgx/v5/pgconn"
)

// classify wraps a persistence error with its retry classification.
// Transient means the same message may succeed on retry without content
// changes; everything else is permanent, which dead-letters the message
// instead of retrying it forever.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		// serialization_failure, deadlock_detected
		case pgErr.Code == "40001" || pgErr.Code == "40P01":
			return failure.Transient(err)
		// connection exceptions
		case strings.HasPrefix(pgErr.Code, "08"):
			return failure.Transient(err)
		// integrity constraint, data exception and the rest are
		// attributable to the message content
		default:
			return failure.Permanent(err)
		}
	}

	if pgconn.SafeToRetry(err) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return failure.Transient(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return failure.Transient(err)
	}

	return failure.Permanent(err)
}
