package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/YunomiXavia/beQuanTri/internal/repositories"
)

// WrapError classifies a Firestore failure as a repositories.StoreError so services can map it
// without knowing the backend. Context cancellations and already classified errors pass
// through; stock errors raised inside a transaction keep their type.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		return err
	}
	var storeErr *repositories.StoreError
	if errors.As(err, &storeErr) {
		if storeErr.Op == "" {
			storeErr.Op = op
		}
		return err
	}

	switch status.Code(err) {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	case codes.NotFound:
		return repositories.NewNotFoundError(op, err)
	// Aborted is what a contended read-write transaction returns once retries run out.
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted, codes.OutOfRange:
		return repositories.NewConflictError(op, err)
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal:
		return repositories.NewUnavailableError(op, err)
	}
	return &repositories.StoreError{Op: op, Err: err}
}
