// Package protocol defines the two fixed-layout records exchanged between
// the sensing and controlling nodes. Messages are sent whole in a single
// write and read back with io.ReadFull; there is no framing beyond the
// fixed struct size.
package protocol

import (
	"encoding/binary"
	"io"

	"codeberg.org/mutker/servoctl/internal/errors"
)

// DefaultPort is the TCP port of the controlling node.
const DefaultPort = 5000

const (
	// MeasurementSize is the wire size of a Measurement.
	MeasurementSize = 8
	// CommandSize is the wire size of a Command.
	CommandSize = 4
)

// Measurement carries one velocity sample from the sensing node.
type Measurement struct {
	Velocity int32
	Millis   uint32
}

// Command carries one control signal back to the sensing node.
type Command struct {
	Value int32
}

func (m Measurement) encode() [MeasurementSize]byte {
	var buf [MeasurementSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(m.Velocity))
	binary.LittleEndian.PutUint32(buf[4:8], m.Millis)

	return buf
}

func (c Command) encode() [CommandSize]byte {
	var buf [CommandSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(c.Value))

	return buf
}

// DecodeMeasurement parses a full wire record. Partial buffers are an error,
// never a partial parse.
func DecodeMeasurement(buf []byte) (Measurement, error) {
	if len(buf) != MeasurementSize {
		return Measurement{}, errors.New().WithData(ErrTruncatedMessage, len(buf))
	}

	return Measurement{
		Velocity: int32(binary.LittleEndian.Uint32(buf[0:4])),
		Millis:   binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}

// DecodeCommand parses a full wire record.
func DecodeCommand(buf []byte) (Command, error) {
	if len(buf) != CommandSize {
		return Command{}, errors.New().WithData(ErrTruncatedMessage, len(buf))
	}

	return Command{Value: int32(binary.LittleEndian.Uint32(buf[0:4]))}, nil
}

// WriteMeasurement sends one measurement in a single write.
func WriteMeasurement(w io.Writer, m Measurement) error {
	buf := m.encode()
	if _, err := w.Write(buf[:]); err != nil {
		return errors.New().Wrap(ErrWriteFailed, err)
	}

	return nil
}

// ReadMeasurement blocks until a whole measurement arrives. Short reads
// surface as errors.
func ReadMeasurement(r io.Reader) (Measurement, error) {
	var buf [MeasurementSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Measurement{}, errors.New().Wrap(ErrReadFailed, err)
	}

	return DecodeMeasurement(buf[:])
}

// WriteCommand sends one command in a single write.
func WriteCommand(w io.Writer, c Command) error {
	buf := c.encode()
	if _, err := w.Write(buf[:]); err != nil {
		return errors.New().Wrap(ErrWriteFailed, err)
	}

	return nil
}

// ReadCommand blocks until a whole command arrives.
func ReadCommand(r io.Reader) (Command, error) {
	var buf [CommandSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Command{}, errors.New().Wrap(ErrReadFailed, err)
	}

	return DecodeCommand(buf[:])
}
