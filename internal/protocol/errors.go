package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedField is returned when fewer than FieldSize bytes are
	// available for a fixed-width field.
	ErrMalformedField = errors.New("malformed field")

	// ErrUnknownCommand is returned for a command byte outside the defined set.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrNameTooLong is returned when a filename length field exceeds the
	// configured limit.
	ErrNameTooLong = errors.New("filename too long")

	// ErrEncoding is returned for a filename that is empty or not valid UTF-8.
	ErrEncoding = errors.New("invalid filename encoding")

	// ErrFileNotFound is returned when the requested file cannot be served.
	ErrFileNotFound = errors.New("file not found")
)

// ConnectionError marks a failure of the underlying connection (refused,
// reset, broken pipe, unexpected EOF) as opposed to a protocol violation.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsViolation reports whether err is a protocol violation, i.e. the peer sent
// bytes that cannot be interpreted.
func IsViolation(err error) bool {
	return errors.Is(err, ErrMalformedField) ||
		errors.Is(err, ErrUnknownCommand) ||
		errors.Is(err, ErrNameTooLong) ||
		errors.Is(err, ErrEncoding)
}
