package models

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// Failure taxonomy for stock-affecting operations. Every one of these
// aborts the enclosing transaction with zero side effects; none is fatal
// to the process. Only ErrBusy is safe to retry blindly.
var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidSerial     = errors.New("serial not found in expected stock")
	ErrDuplicateSerial   = errors.New("serial already present in stock")
	ErrProductNotFound   = errors.New("product not found")
	ErrStoreNotFound     = errors.New("store not found")
	ErrSaleItemNotFound  = errors.New("sale item not found for serial")
	ErrReturnNotFound    = errors.New("return not found")
	ErrInvalidState      = errors.New("record is not in a state that allows this operation")
	ErrBusy              = errors.New("stock rows are locked by another operation; retry")
)

const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

// isDuplicateEntry reports a unique index violation.
func isDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateEntry
}

// translateDBError maps driver-level contention errors onto ErrBusy so
// callers can retry with backoff instead of surfacing a raw SQL error.
func translateDBError(err error) error {
	if err == nil {
		return nil
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlErrLockWaitTimeout, mysqlErrDeadlock:
			return ErrBusy
		}
	}
	return err
}

// IsRetryable reports whether the failure is transient lock contention.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy)
}
