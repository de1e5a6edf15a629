package transport

import (
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

// SerialConfig holds the serial port parameters.
type SerialConfig struct {
	// Device path, e.g. "/dev/ttyUSB0" or "COM4".
	Device string `json:"device"`
	// Baud rate. The stock control boards ship at 115200.
	Baud int `json:"baud"`
}

// DefaultSerialConfig returns the parameters the stock control board uses.
func DefaultSerialConfig(device string) SerialConfig {
	return SerialConfig{Device: device, Baud: 115200}
}

// Serial is a Transport over a real serial line. A mutex serializes
// access so only one command is ever in flight.
type Serial struct {
	mu   sync.Mutex
	port *serial.Port

	// pending holds bytes read past the last newline.
	pending []byte
}

var _ Transport = (*Serial)(nil)

// OpenSerial opens the port and drains any stale firmware output (boot
// banners, leftover acks from a previous session).
func OpenSerial(cfg SerialConfig) (*Serial, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open serial port %s", cfg.Device)
	}
	s := &Serial{port: port}
	s.drain()
	return s, nil
}

// Close closes the port.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

// Send writes one command line and blocks until the firmware
// acknowledges it, reports a fault, or the timeout elapses.
func (s *Serial) Send(line string, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeLine(line); err != nil {
		return err
	}
	_, err := s.awaitAck(timeout, false)
	return err
}

// Query sends a report-producing command (M114) and returns the report
// line that precedes the acknowledgement.
func (s *Serial) Query(line string, timeout time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeLine(line); err != nil {
		return "", err
	}
	return s.awaitAck(timeout, true)
}

func (s *Serial) writeLine(line string) error {
	if s.port == nil {
		return ErrConnectionLost
	}
	logrus.WithField("cmd", line).Trace("serial write")
	if _, err := s.port.Write([]byte(strings.TrimSpace(line) + "\n")); err != nil {
		return pkgerrors.Wrapf(ErrConnectionLost, "write failed: %v", err)
	}
	return nil
}

// awaitAck reads firmware lines until "ok", a fault line, or the
// deadline. With wantReport set, the last non-ack line seen is returned
// to the caller.
func (s *Serial) awaitAck(timeout time.Duration, wantReport bool) (string, error) {
	deadline := time.Now().Add(timeout)
	var report string
	for {
		line, err := s.readLine(deadline)
		if err != nil {
			return "", err
		}
		if line == "" {
			continue
		}
		logrus.WithField("line", line).Trace("serial read")
		lower := strings.ToLower(line)
		switch {
		case lower == "ok" || strings.HasPrefix(lower, "ok "):
			return report, nil
		case strings.HasPrefix(line, "Error") || strings.HasPrefix(lower, "error"):
			return "", pkgerrors.Wrapf(ErrDeviceFault, "%s", line)
		default:
			if wantReport {
				report = line
			}
		}
	}
}

// readLine returns the next newline-terminated line, polling the port in
// short reads until the deadline.
func (s *Serial) readLine(deadline time.Time) (string, error) {
	for {
		if i := indexNewline(s.pending); i >= 0 {
			line := strings.TrimSpace(string(s.pending[:i]))
			s.pending = s.pending[i+1:]
			return line, nil
		}
		if time.Now().After(deadline) {
			return "", ErrAckTimeout
		}
		buf := make([]byte, 128)
		n, err := s.port.Read(buf)
		if err != nil && n == 0 {
			// tarm/serial surfaces read timeouts as EOF; only a hard
			// failure with no progress past the deadline matters here,
			// so keep polling until the deadline decides.
			continue
		}
		s.pending = append(s.pending, buf[:n]...)
	}
}

// drain discards whatever the firmware has buffered.
func (s *Serial) drain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, 256)
	for {
		n, err := s.port.Read(buf)
		if n == 0 || err != nil {
			break
		}
	}
	s.pending = nil
}

func indexNewline(b []byte) int {
	for i, c := range b {
		if c == '\n' {
			return i
		}
	}
	return -1
}
