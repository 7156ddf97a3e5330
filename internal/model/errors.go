package model

import (
	"errors"
	"fmt"
)

var (
	ErrConnection = errors.New("metrics server unreachable")
	ErrQuery      = errors.New("metrics query failed")
	ErrData       = errors.New("invalid sample")
	ErrIO         = errors.New("report write failed")
	ErrSink       = errors.New("report publish failed")
)

// QueryError reports a failed instant query. Kind is ErrConnection or ErrQuery.
type QueryError struct {
	Family Family
	Expr   string
	Kind   error
	Err    error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: family %s (%s): %v", e.Kind, e.Family, e.Expr, e.Err)
}

func (e *QueryError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// WriteError reports a failed report write for one node.
type WriteError struct {
	Node string
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s: node %s (%s): %v", ErrIO, e.Node, e.Path, e.Err)
}

func (e *WriteError) Unwrap() []error {
	return []error{ErrIO, e.Err}
}

// DataError describes a sample skipped during aggregation.
type DataError struct {
	Family Family
	Reason string
	Labels map[string]string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("%s: family %s: %s", ErrData, e.Family, e.Reason)
}

func (e *DataError) Unwrap() error {
	return ErrData
}
