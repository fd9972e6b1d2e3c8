// Package sink owns the persistent TCP connection to the QuestDB ILP
// listener and the write-retry policy around it.
package sink

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/tickflow-systems/tickflow-stack/common/logging"
)

// Config holds the sink connection settings.
type Config struct {
	Host        string
	Port        int
	DialTimeout time.Duration
}

// Writer sends newline-terminated line-protocol records on one persistent
// socket. No response is expected from the sink. The connection is owned by
// a single consume loop; Writer is not safe for concurrent use.
//
// Writes carry no deadline: a sink that hangs blocks the stage. That is a
// liveness risk, not a correctness one, and mirrors how the sink protocol is
// meant to be driven.
type Writer struct {
	addr        string
	dialTimeout time.Duration
	conn        net.Conn
	log         *logging.Logger

	// dial is swappable for tests.
	dial func() (net.Conn, error)
}

// NewWriter opens the initial connection. Failure here is a startup error;
// callers treat it as fatal.
func NewWriter(cfg Config, log *logging.Logger) (*Writer, error) {
	w := &Writer{
		addr:        net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		dialTimeout: cfg.DialTimeout,
		log:         log,
	}
	w.dial = func() (net.Conn, error) {
		return net.DialTimeout("tcp", w.addr, w.dialTimeout)
	}

	if err := w.connect(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) connect() error {
	conn, err := w.dial()
	if err != nil {
		return fmt.Errorf("dial sink %s: %w", w.addr, err)
	}
	w.conn = conn
	return nil
}

// WriteLine sends one record, appending the newline terminator.
//
// Retry policy: if the write fails, reconnect exactly once and retry the
// same line. If the retry also fails the line is abandoned and the error
// returned; the connection is left down so the next call starts by dialing
// fresh. The writer never blocks the stage permanently on sink
// unavailability.
func (w *Writer) WriteLine(line []byte) error {
	if w.conn == nil {
		if err := w.connect(); err != nil {
			return err
		}
	}

	firstErr := w.write(line)
	if firstErr == nil {
		return nil
	}

	w.log.Warn("sink write failed, reconnecting once", logging.Error(firstErr))
	w.conn.Close()
	w.conn = nil

	if err := w.connect(); err != nil {
		return fmt.Errorf("reconnect after failed write: %w", err)
	}
	if err := w.write(line); err != nil {
		w.conn.Close()
		w.conn = nil
		return fmt.Errorf("retry write after reconnect: %w", err)
	}
	return nil
}

func (w *Writer) write(line []byte) error {
	record := make([]byte, len(line)+1)
	copy(record, line)
	record[len(line)] = '\n'

	_, err := w.conn.Write(record)
	return err
}

// Connected reports whether the writer currently holds a live connection.
func (w *Writer) Connected() bool {
	return w.conn != nil
}

// Close tears down the connection if one is up.
func (w *Writer) Close() error {
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	return err
}
