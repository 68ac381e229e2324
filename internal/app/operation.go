package app

import "strings"

// Operation statuses recorded in the catalog.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation tracks the CLI command being run. It lives in memory with
// ID 0 until a catalog-mutating step persists it; read-only commands never
// reach the catalog's operations table.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string
}

// NewOperation creates an in-memory operation. args are joined into the
// recorded parameters.
func NewOperation(operation string, args ...string) *Operation {
	return &Operation{
		Operation:  operation,
		Parameters: strings.Join(args, " "),
		Status:     StatusSuccess,
	}
}

// Persisted reports whether the operation has been saved to the catalog.
func (op *Operation) Persisted() bool {
	return op.ID != 0
}

// Fail marks the operation as failed when err is non-nil and returns err.
func (op *Operation) Fail(err error) error {
	if err != nil {
		op.Status = StatusError
	}
	return err
}
