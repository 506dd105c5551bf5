package client

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ffuentes/fluentforward/protocol/forwardprotocol"
	"github.com/relex/gotils/logger"
	"github.com/vmihailenco/msgpack/v4"
)

type socketState int

const (
	stateDisconnected socketState = iota
	stateConnecting
	stateHandshaking
	stateEstablished
	stateClosing
	stateFatal
)

func (s socketState) String() string {
	switch s {
	case stateDisconnected:
		return "disconnected"
	case stateConnecting:
		return "connecting"
	case stateHandshaking:
		return "handshaking"
	case stateEstablished:
		return "established"
	case stateClosing:
		return "closing"
	case stateFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

type socketEventKind int

const (
	socketConnected socketEventKind = iota
	socketWritable
	socketAck
	socketError
	socketEnd
)

type socketEvent struct {
	kind    socketEventKind
	chunkID string
	err     error
}

// SocketConfig controls the transport of a client
type SocketConfig struct {
	Address              string        `help:"Server address as host:port"`
	TLS                  bool          `help:"Enable TLS"`
	InsecureSkipVerify   bool          `help:"Skip TLS certificate verification, for tests"`
	HandshakeTimeout     time.Duration `help:"Timeout of the HELO/PING/PONG exchange"`
	WriteTimeout         time.Duration `help:"Timeout of a single chunk write"`
	Backoff              time.Duration `help:"Initial reconnection delay"`
	MaxBackoff           time.Duration `help:"Upper bound of the reconnection delay"`
	BackoffMultiplier    float64       `help:"Growth factor of the reconnection delay"`
	BackoffJitter        float64       `help:"Random jitter factor of the reconnection delay, 0.0 to 1.0"`
	MaxReconnectAttempts int           `help:"Consecutive failed connection attempts before giving up; 0 means unlimited"`

	dialer func(address string, timeout time.Duration) (net.Conn, error) // connection factory override for tests
}

func (cfg SocketConfig) withDefaults() SocketConfig {
	if cfg.Address == "" {
		cfg.Address = "localhost:24224"
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.BackoffMultiplier <= 1 {
		cfg.BackoffMultiplier = 2.0
	}
	return cfg
}

// managedSocket drives the connection lifecycle: dialing, handshake,
// reconnection with backoff, and decoding of server acknowledgements.
// State transitions and signals are delivered to the owning client loop
// through the events channel.
type managedSocket struct {
	logger logger.Logger
	config SocketConfig
	auth   forwardprotocol.ClientAuth
	dial   func(address string, timeout time.Duration) (net.Conn, error)
	events chan socketEvent

	mutex          sync.Mutex
	state          socketState
	conn           net.Conn
	attempts       int
	reconnectTimer *time.Timer
	ended          chan struct{}
	endedOnce      sync.Once
}

func newManagedSocket(parentLogger logger.Logger, config SocketConfig, auth forwardprotocol.ClientAuth) *managedSocket {
	dial := config.dialer
	if dial == nil {
		dial = func(address string, timeout time.Duration) (net.Conn, error) {
			return net.DialTimeout("tcp", address, timeout)
		}
	}
	return &managedSocket{
		logger: parentLogger.WithField("component", "ManagedSocket"),
		config: config,
		auth:   auth,
		dial:   dial,
		events: make(chan socketEvent, 64),
		state:  stateDisconnected,
		ended:  make(chan struct{}),
	}
}

// connect starts a connection attempt unless one is underway or the socket is terminal
func (s *managedSocket) connect() {
	s.mutex.Lock()
	if s.state != stateDisconnected {
		s.mutex.Unlock()
		return
	}
	s.state = stateConnecting
	s.mutex.Unlock()
	go s.runConnect()
}

func (s *managedSocket) runConnect() {
	conn, err := s.dial(s.config.Address, s.config.HandshakeTimeout)
	if err != nil {
		s.logger.Warnf("failed to connect to %s: %v", s.config.Address, err)
		s.onConnectFailure(err)
		return
	}
	if s.config.TLS {
		conn = tls.Client(conn, &tls.Config{InsecureSkipVerify: s.config.InsecureSkipVerify})
	}

	s.setState(stateConnecting, stateHandshaking)
	_, handshakeErr := forwardprotocol.DoClientHandshake(conn, s.auth, s.config.HandshakeTimeout)
	if handshakeErr != nil {
		conn.Close()
		var authErr *forwardprotocol.HandshakeError
		if errors.As(handshakeErr, &authErr) || isTimeout(handshakeErr) {
			// bad digest or unresponsive handshake peer; retrying would not help
			s.logger.Errorf("handshake failed fatally: %v", handshakeErr)
			s.enterFatal(handshakeErr)
			return
		}
		s.logger.Warnf("handshake failed: %v", handshakeErr)
		s.onConnectFailure(handshakeErr)
		return
	}

	s.mutex.Lock()
	if s.state != stateHandshaking {
		// shut down while handshaking
		s.mutex.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.state = stateEstablished
	s.attempts = 0
	s.mutex.Unlock()

	s.logger.Infof("connected to %s", s.config.Address)
	s.emit(socketEvent{kind: socketConnected})
	s.emit(socketEvent{kind: socketWritable})
	go s.runReader(conn)
}

// runReader decodes server-to-client frames, which are acknowledgements only
func (s *managedSocket) runReader(conn net.Conn) {
	decoder := msgpack.NewDecoder(conn)
	for {
		ack := forwardprotocol.Ack{}
		if err := decoder.Decode(&ack); err != nil {
			s.onConnLost(conn, err)
			return
		}
		if ack.Ack != "" {
			s.emit(socketEvent{kind: socketAck, chunkID: ack.Ack})
		}
	}
}

// write sends one framed chunk; accepted only while established
func (s *managedSocket) write(data []byte) error {
	s.mutex.Lock()
	if s.state != stateEstablished {
		s.mutex.Unlock()
		return &WriteError{Inner: errors.New("socket is " + s.state.String())}
	}
	conn := s.conn
	s.mutex.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout)); err != nil {
		s.onConnLost(conn, err)
		return &WriteError{Inner: err}
	}
	if _, err := conn.Write(data); err != nil {
		s.onConnLost(conn, err)
		return &WriteError{Inner: err}
	}
	return nil
}

func (s *managedSocket) isWritable() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state == stateEstablished
}

// shutdown closes the transport and disables reconnection; terminal
func (s *managedSocket) shutdown() {
	s.mutex.Lock()
	if s.state == stateClosing {
		s.mutex.Unlock()
		return
	}
	s.state = stateClosing
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.mutex.Unlock()
	s.endedOnce.Do(func() {
		close(s.ended)
	})
}

// onConnLost handles transport errors and remote close of the active connection
func (s *managedSocket) onConnLost(conn net.Conn, err error) {
	s.mutex.Lock()
	if s.conn != conn || s.state != stateEstablished {
		// already replaced or shut down; stale reader
		s.mutex.Unlock()
		return
	}
	s.conn.Close()
	s.conn = nil
	s.state = stateDisconnected
	s.mutex.Unlock()

	if errors.Is(err, io.EOF) {
		s.logger.Infof("connection closed by server")
		s.emit(socketEvent{kind: socketEnd})
	} else {
		s.logger.Warnf("connection lost: %v", err)
		s.emit(socketEvent{kind: socketError, err: err})
	}
	s.scheduleReconnect()
}

// onConnectFailure counts a failed attempt and schedules the next one
func (s *managedSocket) onConnectFailure(err error) {
	s.emit(socketEvent{kind: socketError, err: err})
	s.mutex.Lock()
	if s.state != stateConnecting && s.state != stateHandshaking {
		s.mutex.Unlock()
		return
	}
	s.state = stateDisconnected
	s.mutex.Unlock()
	s.scheduleReconnect()
}

func (s *managedSocket) scheduleReconnect() {
	s.mutex.Lock()
	if s.state != stateDisconnected {
		s.mutex.Unlock()
		return
	}
	s.attempts++
	if s.config.MaxReconnectAttempts > 0 && s.attempts > s.config.MaxReconnectAttempts {
		s.state = stateFatal
		s.mutex.Unlock()
		s.logger.Errorf("gave up reconnecting after %d attempts", s.attempts-1)
		s.emit(socketEvent{kind: socketEnd})
		return
	}
	delay := backoffDelay(s.config.Backoff, s.config.MaxBackoff, s.config.BackoffMultiplier, s.config.BackoffJitter, s.attempts)
	s.reconnectTimer = time.AfterFunc(delay, s.connect)
	s.mutex.Unlock()
	s.logger.Debugf("reconnecting in %v (attempt %d)", delay, s.attempts)
}

func (s *managedSocket) enterFatal(err error) {
	s.mutex.Lock()
	if s.state == stateClosing {
		s.mutex.Unlock()
		return
	}
	s.state = stateFatal
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.mutex.Unlock()
	s.emit(socketEvent{kind: socketError, err: err})
	s.emit(socketEvent{kind: socketEnd})
}

func (s *managedSocket) currentState() socketState {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state
}

func (s *managedSocket) emit(event socketEvent) {
	select {
	case s.events <- event:
	case <-s.ended:
	}
}

func (s *managedSocket) setState(from, to socketState) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.state != from {
		return false
	}
	s.state = to
	return true
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
