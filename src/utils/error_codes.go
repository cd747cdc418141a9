package utils

import "errors"

var (
	DbErrSqlOperation     = errors.New("unknown sql operation error")
	DbErrNotFound         = errors.New("sql: no rows in result set")
	DbErrTableNotFound    = errors.New("sql: table not found")
	DbErrQueryTimeout     = errors.New("sql: query timeout")
	DbErrQueryInterrupted = errors.New("sql: query interrupted")

	GetRedisLockFailed = errors.New("get redis lock failed")
)

// vault and ledger errors
var (
	ErrZeroAmount                     = errors.New("zero amount")
	ErrInsufficientBalance            = errors.New("insufficient balance")
	ErrInsufficientAllowance          = errors.New("insufficient allowance")
	ErrInsufficientAllowanceOrBalance = errors.New("insufficient allowance or balance")
	ErrInvalidReceiver                = errors.New("invalid receiver")
	ErrInvalidAmount                  = errors.New("invalid amount")
	ErrMathOverflow                   = errors.New("math overflow")
	ErrDivisionByZero                 = errors.New("division by zero")
)
