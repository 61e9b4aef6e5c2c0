package transport

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soypat/cfdp/internal"
	"go.bug.st/serial"
)

// SerialConfig configures a KISS framed serial transport.
type SerialConfig struct {
	// Port is the serial device name, i.e. "/dev/ttyUSB0" or "COM3".
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud"`
	// Channels is the amount of engine channels carried. Each channel maps to
	// the KISS port of the same number so at most 16 channels are supported.
	Channels int `yaml:"channels"`
	MTU      int `yaml:"mtu"`
	QueueLen int `yaml:"queue_len"`
}

// Serial carries CFDP PDUs over a serial line, one KISS data frame per PDU.
// The KISS port number identifies the channel.
type Serial struct {
	port   serial.Port
	box    mailbox
	wmu    sync.Mutex
	out    []byte
	frame  []byte
	closed atomic.Bool
	done   chan struct{}
	logger
}

// OpenSerial opens the serial port described by cfg and starts its reader goroutine.
func OpenSerial(cfg SerialConfig, log *slog.Logger) (*Serial, error) {
	if cfg.Channels <= 0 || cfg.Channels > kissMaxPort+1 || cfg.MTU <= 0 || cfg.QueueLen <= 0 {
		return nil, errors.New("serial: invalid channels, MTU or queue length")
	}
	port, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: cfg.BaudRate})
	if err != nil {
		return nil, err
	}
	err = port.SetReadTimeout(100 * time.Millisecond)
	if err != nil {
		port.Close()
		return nil, err
	}
	s := &Serial{
		port:   port,
		out:    make([]byte, cfg.MTU),
		frame:  make([]byte, 0, 2*cfg.MTU+3),
		done:   make(chan struct{}),
		logger: logger{log: log},
	}
	s.box.init(cfg.Channels, cfg.MTU, cfg.QueueLen)
	go s.readLoop(NewKISSDecoder(cfg.MTU))
	s.debug("serial:open", slog.String("port", cfg.Port), slog.Int("baud", cfg.BaudRate))
	return s, nil
}

func (s *Serial) readLoop(dec *KISSDecoder) {
	defer close(s.done)
	var buf [1024]byte
	backoff := internal.NewBackoff(10*time.Millisecond, time.Second)
	deliver := func(port int, msg []byte) {
		if !s.box.put(port, msg) {
			s.trace("serial:drop", slog.Int("port", port), slog.Int("len", len(msg)))
		}
	}
	for !s.closed.Load() {
		n, err := s.port.Read(buf[:])
		if err != nil {
			if s.closed.Load() {
				return
			}
			s.warn("serial:read", slog.String("err", err.Error()), slog.Duration("retry", backoff.Wait()))
			backoff.Miss()
			continue
		}
		backoff.Hit()
		if n > 0 {
			dec.Write(buf[:n], deliver)
		}
	}
}

// Recv returns the next PDU received on channel ch or nil.
func (s *Serial) Recv(ch int) []byte { return s.box.get(ch) }

// Buffer returns the outbound PDU buffer. Serial writes block so it is never nil.
func (s *Serial) Buffer(ch int) []byte { return s.out }

// Send frames msg for KISS port ch and writes it to the serial line.
func (s *Serial) Send(ch int, msg []byte) error {
	if s.closed.Load() {
		return errClosed
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	frame, err := AppendKISS(s.frame[:0], ch, msg)
	if err != nil {
		return err
	}
	s.frame = frame[:0]
	_, err = s.port.Write(frame)
	return err
}

// Dropped returns the amount of received frames discarded because a channel queue was full.
func (s *Serial) Dropped() int { return s.box.droppedCount() }

// Close closes the serial port and waits for the reader goroutine to exit.
func (s *Serial) Close() error {
	if s.closed.Swap(true) {
		return errClosed
	}
	err := s.port.Close()
	<-s.done
	return err
}
