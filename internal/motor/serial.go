package motor

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"codeberg.org/mutker/servoctl/internal/errors"
	"codeberg.org/mutker/servoctl/internal/logger"
	"go.bug.st/serial"
)

// SerialConfig describes a motor board attached over a serial line.
type SerialConfig struct {
	Device   string
	BaudRate int
}

// Serial talks to a microcontroller that owns the encoder timer and the
// PWM bridge. One sample line "count,millis\n" arrives per request; the
// board accepts single-letter commands back.
type Serial struct {
	port       serial.Port
	reader     *bufio.Reader
	lastMillis uint32
}

func OpenSerial(cfg SerialConfig) (*Serial, error) {
	errFactory := errors.New()

	mode := &serial.Mode{BaudRate: cfg.BaudRate}
	port, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, errFactory.Wrap(ErrOpenFailed, err)
	}

	logger.Debug().Str("device", cfg.Device).Int("baud", cfg.BaudRate).Msg("Serial motor attached")

	return &Serial{
		port:   port,
		reader: bufio.NewReader(port),
	}, nil
}

// ReadCounter requests and parses one sample line. The millisecond stamp of
// the sample is cached for the NowMillis call of the same tick.
func (s *Serial) ReadCounter() (int16, error) {
	errFactory := errors.New()

	if _, err := s.port.Write([]byte("s\n")); err != nil {
		return 0, errFactory.Wrap(ErrWriteFailed, err)
	}

	line, err := s.reader.ReadString('\n')
	if err != nil {
		return 0, errFactory.Wrap(ErrReadFailed, err)
	}

	count, millis, err := parseSample(line)
	if err != nil {
		return 0, err
	}
	s.lastMillis = millis

	return count, nil
}

func (s *Serial) NowMillis() uint32 {
	return s.lastMillis
}

func (s *Serial) Apply(command int32) error {
	if _, err := fmt.Fprintf(s.port, "c%d\n", command); err != nil {
		return errors.New().Wrap(ErrWriteFailed, err)
	}

	return nil
}

func (s *Serial) Enable() error {
	if _, err := s.port.Write([]byte("e\n")); err != nil {
		return errors.New().Wrap(ErrWriteFailed, err)
	}

	return nil
}

func (s *Serial) Disable() error {
	if _, err := s.port.Write([]byte("d\n")); err != nil {
		return errors.New().Wrap(ErrWriteFailed, err)
	}

	return nil
}

func (s *Serial) Close() error {
	if err := s.port.Close(); err != nil {
		return errors.New().Wrap(ErrCloseFailed, err)
	}

	return nil
}

func parseSample(line string) (int16, uint32, error) {
	errFactory := errors.New()

	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) != 2 {
		return 0, 0, errFactory.WithData(ErrMalformedSample, line)
	}

	count, err := strconv.ParseInt(parts[0], 10, 16)
	if err != nil {
		return 0, 0, errFactory.WithData(ErrMalformedSample, line)
	}

	millis, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, errFactory.WithData(ErrMalformedSample, line)
	}

	return int16(count), uint32(millis), nil
}
