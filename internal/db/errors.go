package db

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/gymops/backend/internal/models"
)

const uniqueViolation = "23505"

// wrapError maps driver errors onto the engine's storage sentinels. Errors
// it does not recognise are returned unchanged.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %v", models.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == uniqueViolation:
			return fmt.Errorf("%w: %s", models.ErrStorageConflict, pgErr.ConstraintName)
		case len(pgErr.Code) == 5 && pgErr.Code[:2] == "08",
			pgErr.Code == "53300", pgErr.Code == "57P01", pgErr.Code == "57P03":
			return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
		}
		return err
	}

	var connErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.As(err, &connErr),
		errors.As(err, &netErr),
		pgconn.Timeout(err),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	return err
}
