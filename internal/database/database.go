package database

import "errors"

var (
	ErrDumpFailed   = errors.New("dump failed")
	ErrFetchFailed  = errors.New("binlog fetch failed")
	ErrListFailed   = errors.New("catalog listing failed")
	ErrInvalidInput = errors.New("invalid input")
)

// BinaryLog is one row of SHOW BINARY LOGS.
type BinaryLog struct {
	Name string
	Size int64
}
