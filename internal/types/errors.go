package types

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned when a send is attempted without a live connection.
var ErrNotConnected = errors.New("not connected")

// ConnectionError reports a transport that failed to open or dropped.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connection %s: %s", e.Op, e.Err.Error())
	}

	return "connection " + e.Op
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

type FetchError struct {
	Page int
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch page %d: %s", e.Page, e.Err.Error())
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ParseError reports one inbound payload that could not be decoded. The
// payload is dropped; the connection it arrived on stays up.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.Source, e.Err.Error())
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
