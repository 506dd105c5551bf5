package client

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ffuentes/fluentforward/protocol/forwardprotocol"
	"github.com/relex/gotils/logger"
	"github.com/stretchr/testify/assert"
	"github.com/vmihailenco/msgpack/v4"
)

// fakeServer is a minimal forward protocol collector for client tests, with
// precise control over acknowledgement behavior
type fakeServer struct {
	listener net.Listener
	auth     forwardprotocol.ServerAuth
	sendAcks bool
	messages chan forwardprotocol.Message
}

func launchFakeServer(t *testing.T, address string, sendAcks bool) *fakeServer {
	lsnr, err := net.Listen("tcp", address)
	assert.Nil(t, err)
	fs := &fakeServer{
		listener: lsnr,
		auth: forwardprotocol.ServerAuth{
			SharedKey: "hi",
			Hostname:  "fake-server",
			KeepAlive: true,
		},
		sendAcks: sendAcks,
		messages: make(chan forwardprotocol.Message, 100),
	}
	go fs.run()
	return fs
}

func (fs *fakeServer) run() {
	for {
		conn, err := fs.listener.Accept()
		if err != nil {
			return
		}
		go fs.serve(conn)
	}
}

func (fs *fakeServer) serve(conn net.Conn) {
	defer conn.Close()
	if err := forwardprotocol.DoServerHandshake(conn, fs.auth, 5*time.Second, nil); err != nil {
		return
	}
	decoder := msgpack.NewDecoder(conn)
	encoder := msgpack.NewEncoder(conn)
	for {
		var message forwardprotocol.Message
		if err := decoder.Decode(&message); err != nil {
			return
		}
		fs.messages <- message
		if chunk := message.Option.Chunk; chunk != "" && fs.sendAcks {
			if err := encoder.Encode(&forwardprotocol.Ack{Ack: chunk}); err != nil {
				return
			}
		}
	}
}

func (fs *fakeServer) stop() {
	fs.listener.Close()
}

func (fs *fakeServer) nextMessage(timeout time.Duration) (forwardprotocol.Message, bool) {
	select {
	case message := <-fs.messages:
		return message, true
	case <-time.After(timeout):
		return forwardprotocol.Message{}, false
	}
}

// freeLocalAddr reserves a local port and frees it for a later listener
func freeLocalAddr(t *testing.T) string {
	lsnr, err := net.Listen("tcp", "localhost:0")
	assert.Nil(t, err)
	addr := lsnr.Addr().String()
	lsnr.Close()
	return addr
}

func testClientConfig(address string) Config {
	return Config{
		TagPrefix: "test",
		SharedKey: "hi",
		Socket: SocketConfig{
			Address:    address,
			Backoff:    10 * time.Millisecond,
			MaxBackoff: 50 * time.Millisecond,
		},
	}
}

func TestClientConfigValidation(t *testing.T) {
	var configErr *ConfigError

	_, err := NewClient(logger.WithField("test", t.Name()), Config{})
	assert.ErrorAs(t, err, &configErr)

	_, err = NewClient(logger.WithField("test", t.Name()), Config{TagPrefix: "test.", EventMode: "Forward"})
	assert.ErrorAs(t, err, &configErr)

	_, err = NewClient(logger.WithField("test", t.Name()), Config{TagPrefix: "test", EventMode: "Compressed"})
	assert.ErrorAs(t, err, &configErr)
}

func TestClientBasicEmit(t *testing.T) {
	fs := launchFakeServer(t, "localhost:0", false)
	defer fs.stop()

	fclient, err := NewClient(logger.WithField("test", t.Name()), testClientConfig(fs.listener.Addr().String()))
	assert.Nil(t, err)
	defer fclient.Shutdown()

	future := fclient.EmitWithSuffix("foo", map[string]interface{}{"event": "foo"})
	assert.Nil(t, future.Wait())

	message, received := fs.nextMessage(5 * time.Second)
	assert.True(t, received)
	assert.Equal(t, "test.foo", message.Tag)
	assert.Equal(t, "", message.Option.Chunk)
	assert.Len(t, message.Entries, 1)
	assert.Equal(t, map[string]interface{}{"event": "foo"}, message.Entries[0].Record)
}

func TestClientEmitValidation(t *testing.T) {
	fclient, err := NewClient(logger.WithField("test", t.Name()), testClientConfig(freeLocalAddr(t)))
	assert.Nil(t, err)
	defer fclient.Shutdown()

	var dataErr *DataTypeError

	settled, ferr := fclient.Emit(nil).TryWait(0)
	assert.True(t, settled)
	assert.ErrorAs(t, ferr, &dataErr)

	settled, ferr = fclient.EmitEvent("", map[string]interface{}{"k": "v"}, "not a timestamp").TryWait(0)
	assert.True(t, settled)
	assert.ErrorAs(t, ferr, &dataErr)

	settled, ferr = fclient.EmitWithTime("", map[string]interface{}{"k": "v"}, time.Unix(forwardprotocol.MaxEventTimeSeconds, 0)).TryWait(0)
	assert.True(t, settled)
	assert.ErrorAs(t, ferr, &dataErr)
}

func TestClientMillisecondTimestamps(t *testing.T) {
	config := testClientConfig(freeLocalAddr(t))
	config.Milliseconds = true
	fclient, err := NewClient(logger.WithField("test", t.Name()), config)
	assert.Nil(t, err)
	defer fclient.Shutdown()

	tm, terr := fclient.coerceTimestamp(int64(1647270566535))
	assert.Nil(t, terr)
	assert.Equal(t, int64(1647270566), tm.Unix())
	assert.Equal(t, 535000000, tm.Nanosecond())

	// an explicit EventTime bypasses the milliseconds rule
	explicit := forwardprotocol.NewEventTime(1600000000, 42)
	tm, terr = fclient.coerceTimestamp(explicit)
	assert.Nil(t, terr)
	assert.Equal(t, explicit, tm)
}

func TestClientQueueSizeCap(t *testing.T) {
	address := freeLocalAddr(t)
	config := testClientConfig(address)
	config.SendQueueMaxLimit = QueueLimit{Size: 20}
	fclient, err := NewClient(logger.WithField("test", t.Name()), config)
	assert.Nil(t, err)
	defer fclient.Shutdown()

	var dropped *DroppedError
	futureA := fclient.EmitWithSuffix("a", map[string]interface{}{"event": "foo bar"})
	settled, ferr := futureA.TryWait(time.Second)
	assert.True(t, settled)
	assert.ErrorAs(t, ferr, &dropped)

	futureB := fclient.EmitWithSuffix("b", map[string]interface{}{"event": "lorem"})
	settled, _ = futureB.TryWait(50 * time.Millisecond)
	assert.False(t, settled)

	fs := launchFakeServer(t, address, false)
	defer fs.stop()

	settled, ferr = futureB.TryWait(5 * time.Second)
	assert.True(t, settled)
	assert.Nil(t, ferr)

	message, received := fs.nextMessage(5 * time.Second)
	assert.True(t, received)
	assert.Equal(t, "test.b", message.Tag)
}

func TestClientFlushIntervalCoalescing(t *testing.T) {
	fs := launchFakeServer(t, "localhost:0", false)
	defer fs.stop()

	config := testClientConfig(fs.listener.Addr().String())
	config.FlushInterval = 100 * time.Millisecond
	fclient, err := NewClient(logger.WithField("test", t.Name()), config)
	assert.Nil(t, err)
	defer fclient.Shutdown()

	futureA := fclient.EmitWithSuffix("foo", map[string]interface{}{"seq": "1"})
	futureB := fclient.EmitWithSuffix("foo", map[string]interface{}{"seq": "2"})

	message, received := fs.nextMessage(5 * time.Second)
	assert.True(t, received)
	assert.Len(t, message.Entries, 2)
	assert.Equal(t, "test.foo", message.Tag)
	assert.Nil(t, futureA.Wait())
	assert.Nil(t, futureB.Wait())

	// both events went out as one frame
	_, receivedMore := fs.nextMessage(200 * time.Millisecond)
	assert.False(t, receivedMore)
}

func TestClientAckSuccess(t *testing.T) {
	fs := launchFakeServer(t, "localhost:0", true)
	defer fs.stop()

	config := testClientConfig(fs.listener.Addr().String())
	config.Ack = AckConfig{Enabled: true, AckTimeout: 5 * time.Second}
	fclient, err := NewClient(logger.WithField("test", t.Name()), config)
	assert.Nil(t, err)
	defer fclient.Shutdown()

	future := fclient.EmitWithSuffix("foo", map[string]interface{}{"event": "foo"})

	message, received := fs.nextMessage(5 * time.Second)
	assert.True(t, received)
	assert.NotEmpty(t, message.Option.Chunk)

	settled, ferr := future.TryWait(5 * time.Second)
	assert.True(t, settled)
	assert.Nil(t, ferr)
}

func TestClientAckTimeout(t *testing.T) {
	fs := launchFakeServer(t, "localhost:0", false) // receives but never acks
	defer fs.stop()

	config := testClientConfig(fs.listener.Addr().String())
	config.Ack = AckConfig{Enabled: true, AckTimeout: 50 * time.Millisecond}
	fclient, err := NewClient(logger.WithField("test", t.Name()), config)
	assert.Nil(t, err)
	defer fclient.Shutdown()

	future := fclient.EmitWithSuffix("foo", map[string]interface{}{"event": "foo"})

	settled, ferr := future.TryWait(5 * time.Second)
	assert.True(t, settled)
	var timeoutErr *AckTimeoutError
	assert.ErrorAs(t, ferr, &timeoutErr)
}

func TestClientGracefulDisconnect(t *testing.T) {
	address := freeLocalAddr(t)
	config := testClientConfig(address)
	config.DisconnectWaitForPending = true
	fclient, err := NewClient(logger.WithField("test", t.Name()), config)
	assert.Nil(t, err)
	defer fclient.Shutdown()

	future := fclient.EmitWithSuffix("a", map[string]interface{}{"event": "foo bar"})

	disconnectDone := make(chan error, 1)
	go func() {
		disconnectDone <- fclient.Disconnect()
	}()

	select {
	case <-disconnectDone:
		t.Fatal("disconnect returned before the queue was drained")
	case <-time.After(100 * time.Millisecond):
	}

	fs := launchFakeServer(t, address, false)
	defer fs.stop()

	settled, ferr := future.TryWait(5 * time.Second)
	assert.True(t, settled)
	assert.Nil(t, ferr)

	select {
	case derr := <-disconnectDone:
		assert.Nil(t, derr)
	case <-time.After(5 * time.Second):
		t.Fatal("disconnect did not return after the queue was drained")
	}

	message, received := fs.nextMessage(5 * time.Second)
	assert.True(t, received)
	assert.Len(t, message.Entries, 1)
	_, receivedMore := fs.nextMessage(100 * time.Millisecond)
	assert.False(t, receivedMore)
}

func TestClientShutdownRejectsPending(t *testing.T) {
	fclient, err := NewClient(logger.WithField("test", t.Name()), testClientConfig(freeLocalAddr(t)))
	assert.Nil(t, err)

	future := fclient.EmitWithSuffix("a", map[string]interface{}{"event": "foo"})
	assert.Equal(t, 1, fclient.PendingEventCount())

	fclient.Shutdown()

	settled, ferr := future.TryWait(0)
	assert.True(t, settled)
	var dropped *DroppedError
	assert.ErrorAs(t, ferr, &dropped)

	// emitting after shutdown is rejected, not blocked
	settled, ferr = fclient.Emit(map[string]interface{}{"k": "v"}).TryWait(0)
	assert.True(t, settled)
	assert.ErrorAs(t, ferr, &dropped)
}

// flakyConn fails designated writes to exercise the retry path
type flakyConn struct {
	net.Conn
	mutex  sync.Mutex
	writes int
	failOn map[int]bool
}

func (c *flakyConn) Write(b []byte) (int, error) {
	c.mutex.Lock()
	c.writes++
	fail := c.failOn[c.writes]
	c.mutex.Unlock()
	if fail {
		return 0, errors.New("injected write failure")
	}
	return c.Conn.Write(b)
}

func TestClientRetryOnWriteError(t *testing.T) {
	fs := launchFakeServer(t, "localhost:0", false)
	defer fs.stop()

	var onErrorCalls int32
	config := testClientConfig(fs.listener.Addr().String())
	config.EventRetry = &RetryConfig{
		Backoff:     10 * time.Millisecond,
		MaxAttempts: 3,
		OnError: func(err error, attempt int) {
			atomic.AddInt32(&onErrorCalls, 1)
		},
	}
	var dialCount int32
	config.Socket.dialer = func(address string, timeout time.Duration) (net.Conn, error) {
		conn, err := net.DialTimeout("tcp", address, timeout)
		if err != nil {
			return nil, err
		}
		if atomic.AddInt32(&dialCount, 1) == 1 {
			// the handshake is write #1; the first chunk write fails
			return &flakyConn{Conn: conn, failOn: map[int]bool{2: true}}, nil
		}
		return conn, nil
	}

	fclient, err := NewClient(logger.WithField("test", t.Name()), config)
	assert.Nil(t, err)
	defer fclient.Shutdown()

	future := fclient.EmitWithSuffix("foo", map[string]interface{}{"event": "foo"})

	settled, ferr := future.TryWait(5 * time.Second)
	assert.True(t, settled)
	assert.Nil(t, ferr)
	assert.Equal(t, int32(1), atomic.LoadInt32(&onErrorCalls))

	message, received := fs.nextMessage(5 * time.Second)
	assert.True(t, received)
	assert.Equal(t, "test.foo", message.Tag)
}

func TestClientSocketEvents(t *testing.T) {
	fs := launchFakeServer(t, "localhost:0", false)
	defer fs.stop()

	fclient, err := NewClient(logger.WithField("test", t.Name()), testClientConfig(fs.listener.Addr().String()))
	assert.Nil(t, err)
	defer fclient.Shutdown()

	events := make(chan string, 10)
	fclient.SocketOn(EventConnected, func(interface{}) { events <- EventConnected })
	fclient.SocketOn(EventWritable, func(interface{}) { events <- EventWritable })

	deadline := time.After(5 * time.Second)
	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case name := <-events:
			seen[name] = true
		case <-deadline:
			t.Fatal("socket events not received: ", seen)
		}
	}
}

func TestClientPackedModesEndToEnd(t *testing.T) {
	for _, mode := range []string{"Message", "PackedForward", "CompressedPackedForward"} {
		fs := launchFakeServer(t, "localhost:0", false)

		config := testClientConfig(fs.listener.Addr().String())
		config.EventMode = mode
		fclient, err := NewClient(logger.WithField("test", t.Name()+mode), config)
		assert.Nil(t, err, mode)

		future := fclient.EmitWithSuffix("foo", map[string]interface{}{"mode": mode})
		assert.Nil(t, future.Wait(), mode)

		message, received := fs.nextMessage(5 * time.Second)
		assert.True(t, received, mode)
		assert.Equal(t, "test.foo", message.Tag, mode)
		assert.Len(t, message.Entries, 1, mode)
		assert.Equal(t, map[string]interface{}{"mode": mode}, message.Entries[0].Record, mode)

		fclient.Shutdown()
		fs.stop()
	}
}
