package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/YunomiXavia/beQuanTri/internal/repositories"
)

// classify maps gorm and driver failures onto repository semantics. Context cancellations and
// errors already carrying repository semantics pass through unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return err
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		return err
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return repositories.NewNotFoundError(op, err)
	case errors.Is(err, gorm.ErrDuplicatedKey), errors.Is(err, gorm.ErrForeignKeyViolated), errors.Is(err, gorm.ErrCheckConstraintViolated):
		return repositories.NewConflictError(op, err)
	case errors.Is(err, driver.ErrBadConn):
		return repositories.NewUnavailableError(op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		// serialization_failure, deadlock_detected, unique_violation, check_violation
		case pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "23505", pgErr.Code == "23514":
			return repositories.NewConflictError(op, err)
		// connection_exception, insufficient_resources, operator_intervention
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "53"), strings.HasPrefix(pgErr.Code, "57"):
			return repositories.NewUnavailableError(op, err)
		}
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return repositories.NewUnavailableError(op, err)
	}
	return &repositories.StoreError{Op: op, Err: err}
}
