package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// EncodeHeader serializes a command byte followed by each field as an 8-byte
// big-endian integer.
func EncodeHeader(cmd Command, fields ...uint64) []byte {
	buf := make([]byte, CommandSize, CommandSize+len(fields)*FieldSize)
	buf[0] = byte(cmd)
	for _, f := range fields {
		buf = binary.BigEndian.AppendUint64(buf, f)
	}
	return buf
}

// EncodeGet builds a complete GET request for name.
func EncodeGet(name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	buf := EncodeHeader(CmdGet, uint64(len(name)))
	return append(buf, name...), nil
}

// EncodePutHeader builds the part of a PUT request that precedes the file
// bytes: command, name length, name and file size.
func EncodePutHeader(name string, size uint64) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	buf := EncodeHeader(CmdPut, uint64(len(name)))
	buf = append(buf, name...)
	return binary.BigEndian.AppendUint64(buf, size), nil
}

// EncodeSize serializes a single 8-byte size field.
func EncodeSize(size uint64) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, FieldSize), size)
}

// EncodeText serializes a length-prefixed UTF-8 text message.
func EncodeText(text string) []byte {
	buf := EncodeSize(uint64(len(text)))
	return append(buf, text...)
}

// DecodeU64 interprets the first FieldSize bytes of data as a big-endian
// unsigned integer.
func DecodeU64(data []byte) (uint64, error) {
	if len(data) < FieldSize {
		return 0, fmt.Errorf("%w: %d bytes (need %d)", ErrMalformedField, len(data), FieldSize)
	}
	return binary.BigEndian.Uint64(data[:FieldSize]), nil
}

// ValidateName checks that name can travel in a filename field.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrEncoding)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("%w: %q", ErrEncoding, name)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Stream readers
// ---------------------------------------------------------------------------

// ReadCommand reads exactly one command byte. A peer that closed the
// connection yields io.EOF unwrapped.
func ReadCommand(r io.Reader) (Command, error) {
	var b [CommandSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, io.EOF
		}
		return 0, &ConnectionError{Op: "read command", Err: err}
	}

	cmd := Command(b[0])
	if !cmd.Valid() {
		return cmd, fmt.Errorf("%w: 0x%02x", ErrUnknownCommand, b[0])
	}
	return cmd, nil
}

// ReadU64 keeps reading until a full 8-byte field has accumulated, since a
// single read may return fewer bytes.
func ReadU64(r io.Reader) (uint64, error) {
	var b [FieldSize]byte
	n, err := io.ReadFull(r, b[:])
	switch {
	case err == nil:
		return DecodeU64(b[:])
	case errors.Is(err, io.ErrUnexpectedEOF):
		return 0, fmt.Errorf("%w: truncated after %d bytes", ErrMalformedField, n)
	default:
		return 0, &ConnectionError{Op: "read field", Err: err}
	}
}

// ReadName reads a length-prefixed filename, rejecting lengths above max.
func ReadName(r io.Reader, max uint64) (string, error) {
	n, err := ReadU64(r)
	if err != nil {
		return "", err
	}
	if n > max {
		return "", fmt.Errorf("%w: %d bytes (limit %d)", ErrNameTooLong, n, max)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", &ConnectionError{Op: "read filename", Err: err}
	}

	name := string(buf)
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

// ReadText reads a length-prefixed UTF-8 text message of at most max bytes.
func ReadText(r io.Reader, max uint64) (string, error) {
	n, err := ReadU64(r)
	if err != nil {
		return "", err
	}
	if n > max {
		return "", fmt.Errorf("%w: text of %d bytes exceeds %d", ErrMalformedField, n, max)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", &ConnectionError{Op: "read text", Err: err}
	}
	if !utf8.Valid(buf) {
		return "", fmt.Errorf("%w: text is not UTF-8", ErrEncoding)
	}
	return string(buf), nil
}
