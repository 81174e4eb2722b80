// Package protocol defines the wire format of the file transfer service.
//
// Every request starts with a one byte command. Integer fields are 8 bytes,
// big-endian, unsigned. Layouts:
//
//	GET  request   0x01 | name length | name
//	GET  response  file size | file bytes      (size NotFound: no payload)
//	PUT  request   0x02 | name length | name | file size | file bytes
//	LIST request   0x03
//	LIST response  text length | UTF-8 text, one entry per line
//	BYE            0x04
package protocol

import (
	"fmt"
	"math"
)

// Command is the first byte of every request.
type Command uint8

// Command values as they appear on the wire.
const (
	CmdGet  Command = 0x01
	CmdPut  Command = 0x02
	CmdList Command = 0x03
	CmdBye  Command = 0x04
)

const (
	// CommandSize is the size of the command field.
	CommandSize = 1

	// FieldSize is the size of every length and file size field.
	FieldSize = 8
)

// NotFound is the file size sentinel answered to a GET whose file cannot be
// served. No payload follows it.
const NotFound uint64 = math.MaxUint64

// Valid reports whether c is one of the defined commands.
func (c Command) Valid() bool {
	return c >= CmdGet && c <= CmdBye
}

func (c Command) String() string {
	switch c {
	case CmdGet:
		return "GET"
	case CmdPut:
		return "PUT"
	case CmdList:
		return "LIST"
	case CmdBye:
		return "BYE"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(c))
	}
}
