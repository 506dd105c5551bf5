package client

import (
	"fmt"
	"time"

	"github.com/ffuentes/fluentforward/protocol/forwardprotocol"
	"github.com/relex/gotils/logger"
)

// Names of socket events observable through SocketOn
const (
	EventConnected = "connected"
	EventWritable  = "writable"
	EventError     = "error"
	EventAck       = "ack"
	EventEnd       = "end"
)

// Client ships log events to a Fluentd Forward server. Events queue up per
// tag, get coalesced into protocol chunks and written through a managed
// socket, optionally tracked until the server acknowledges each chunk.
//
// All queue, tracker and timer state is owned by a single loop goroutine;
// public methods hand closures to that loop.
type Client struct {
	logger  logger.Logger
	config  Config
	mode    forwardprotocol.MessageMode
	socket  *managedSocket
	queue   *sendQueue
	tracker *ackTracker

	cmds     chan func()
	stopLoop chan struct{}
	stopped  chan struct{}

	// state below is owned by the loop goroutine
	flushTimer    *time.Timer
	flushPending  bool
	flushing      bool
	writeAttempts int
	disconnectReq *disconnectRequest
	handlers      map[string][]func(interface{})
	shuttingDown  bool
}

type disconnectRequest struct {
	waitForPending bool
	done           *Future
}

// NewClient validates the configuration and starts the client; connection is
// established in background and events may be emitted immediately
func NewClient(parentLogger logger.Logger, config Config) (*Client, error) {
	mode, err := config.validate()
	if err != nil {
		return nil, err
	}
	config.applyDefaults()

	clogger := parentLogger.WithField("component", "FluentForwardClient")
	client := &Client{
		logger:  clogger,
		config:  config,
		mode:    mode,
		queue:   newSendQueue(),
		tracker: newAckTracker(),
		socket: newManagedSocket(clogger, config.Socket, forwardprotocol.ClientAuth{
			SharedKey: config.SharedKey,
			Username:  config.Username,
			Password:  config.Password,
		}),
		cmds:     make(chan func()),
		stopLoop: make(chan struct{}),
		stopped:  make(chan struct{}),
		handlers: make(map[string][]func(interface{})),
	}
	go client.run()
	client.socket.connect()
	return client, nil
}

// Emit queues a record under the tag prefix with the current time
func (c *Client) Emit(record map[string]interface{}) *Future {
	return c.EmitEvent("", record, nil)
}

// EmitWithSuffix queues a record under "prefix.suffix" with the current time
func (c *Client) EmitWithSuffix(suffix string, record map[string]interface{}) *Future {
	return c.EmitEvent(suffix, record, nil)
}

// EmitWithTime queues a record with an explicit wall-clock timestamp
func (c *Client) EmitWithTime(suffix string, record map[string]interface{}, tm time.Time) *Future {
	return c.EmitEvent(suffix, record, tm)
}

// EmitEvent queues a record under "prefix.suffix" (or the prefix alone when
// suffix is empty). timestamp may be nil for the current time, a time.Time,
// an EventTime, or a number of epoch seconds (epoch milliseconds when the
// Milliseconds option is set). The returned Future settles exactly once.
func (c *Client) EmitEvent(suffix string, record map[string]interface{}, timestamp interface{}) *Future {
	future := newFuture()
	if record == nil {
		future.settle(&DataTypeError{Reason: "record must be a map"})
		return future
	}
	tm, terr := c.coerceTimestamp(timestamp)
	if terr != nil {
		future.settle(terr)
		return future
	}
	tag := c.config.TagPrefix
	if suffix != "" {
		tag = tag + "." + suffix
	}
	if !c.post(func() { c.pushEvent(tag, tm, record, future) }) {
		future.settle(&DroppedError{Reason: "client is shut down"})
	}
	return future
}

// Flush schedules a flush of the send queue, respecting FlushInterval
func (c *Client) Flush() {
	c.post(func() { c.scheduleFlush() })
}

// SyncFlush cancels any scheduled flush and drains the queue in-line, until
// the queue is empty or the socket refuses more bytes
func (c *Client) SyncFlush() {
	done := make(chan struct{})
	if c.post(func() {
		c.cancelFlushTimer()
		c.flushNow()
		close(done)
	}) {
		<-done
	}
}

// Disconnect flushes and closes the socket gracefully. With the
// DisconnectWaitForPending option it first waits until the queue is drained
// and all in-flight chunks are settled.
func (c *Client) Disconnect() error {
	future := newFuture()
	if !c.post(func() { c.beginDisconnect(future) }) {
		return nil
	}
	return future.Wait()
}

// Shutdown rejects everything pending and stops the client immediately; all
// outstanding futures are settled before it returns
func (c *Client) Shutdown() {
	c.post(func() { c.doShutdown() })
	<-c.stopped
}

// SocketOn subscribes to socket events by name; see the Event constants.
// Handlers run on the client loop and must not block.
func (c *Client) SocketOn(event string, handler func(payload interface{})) {
	c.post(func() {
		c.handlers[event] = append(c.handlers[event], handler)
	})
}

// PendingEventCount returns the number of queued entries not yet written
func (c *Client) PendingEventCount() int {
	count := make(chan int, 1)
	if !c.post(func() { count <- c.queue.totalLength() }) {
		return 0
	}
	return <-count
}

// post hands a closure to the loop goroutine; false after shutdown
func (c *Client) post(fn func()) bool {
	select {
	case c.cmds <- fn:
		return true
	case <-c.stopped:
		return false
	}
}

func (c *Client) run() {
	defer close(c.stopped)
	ackTicker := time.NewTicker(c.ackSweepInterval())
	defer ackTicker.Stop()

	for {
		var flushChan <-chan time.Time
		if c.flushTimer != nil {
			flushChan = c.flushTimer.C
		}
		select {
		case fn := <-c.cmds:
			fn()
		case event := <-c.socket.events:
			c.handleSocketEvent(event)
		case <-flushChan:
			c.flushTimer = nil
			c.flushPending = false
			c.flushNow()
		case now := <-ackTicker.C:
			if numExpired := c.tracker.sweep(now); numExpired > 0 {
				metricAcksExpired.Add(float64(numExpired))
				c.maybeFinishDisconnect()
			}
		case <-c.stopLoop:
			return
		}
	}
}

func (c *Client) coerceTimestamp(timestamp interface{}) (forwardprotocol.EventTime, error) {
	switch value := timestamp.(type) {
	case nil:
		return forwardprotocol.EventTimeNow(), nil
	case forwardprotocol.EventTime:
		// an explicit EventTime passes through; Milliseconds applies to numbers only
		return value, nil
	case time.Time:
		if err := forwardprotocol.CheckEventTimeRange(value); err != nil {
			return forwardprotocol.EventTime{}, &DataTypeError{Reason: err.Error()}
		}
		return forwardprotocol.EventTime{Time: value}, nil
	case int:
		return c.eventTimeFromNumber(int64(value))
	case int64:
		return c.eventTimeFromNumber(value)
	case float64:
		return c.eventTimeFromNumber(int64(value))
	default:
		return forwardprotocol.EventTime{}, &DataTypeError{Reason: fmt.Sprintf("unsupported timestamp type %T", timestamp)}
	}
}

func (c *Client) eventTimeFromNumber(number int64) (forwardprotocol.EventTime, error) {
	var tm forwardprotocol.EventTime
	if c.config.Milliseconds {
		tm = forwardprotocol.EventTimeFromMilliseconds(number)
	} else {
		tm = forwardprotocol.NewEventTime(number, 0)
	}
	if err := forwardprotocol.CheckEventTimeRange(tm.Time); err != nil {
		return forwardprotocol.EventTime{}, &DataTypeError{Reason: err.Error()}
	}
	return tm, nil
}

func (c *Client) pushEvent(tag string, tm forwardprotocol.EventTime, record map[string]interface{}, future *Future) {
	if c.shuttingDown {
		future.settle(&DroppedError{Reason: "client is shut down"})
		return
	}
	cost := estimateEntryCost(record)
	newSize := c.queue.totalSize() + cost
	newLength := c.queue.totalLength() + 1
	if c.config.SendQueueMaxLimit.exceededBy(newSize, newLength) {
		metricEventsDropped.Inc()
		future.settle(&DroppedError{Reason: "send queue limit exceeded"})
		return
	}
	if !c.socket.isWritable() && c.config.SendQueueNotFlushableLimit.exceededBy(newSize, newLength) {
		metricEventsDropped.Inc()
		future.settle(&DroppedError{Reason: "send queue not-flushable limit exceeded"})
		return
	}
	c.queue.push(tag, tm, record, future)
	metricEventsEmitted.Inc()

	switch {
	case c.config.SendQueueSyncFlushLimit.isSet() &&
		c.config.SendQueueSyncFlushLimit.exceededBy(c.queue.totalSize(), c.queue.totalLength()):
		c.cancelFlushTimer()
		c.flushNow()
	case c.config.SendQueueIntervalFlushLimit.isSet() &&
		c.config.SendQueueIntervalFlushLimit.exceededBy(c.queue.totalSize(), c.queue.totalLength()):
		// bring the scheduled flush forward to the next loop turn
		c.scheduleFlushIn(0)
	default:
		c.scheduleFlush()
	}
}

func (c *Client) scheduleFlush() {
	if c.flushPending {
		return
	}
	c.flushPending = true
	c.flushTimer = time.NewTimer(c.config.FlushInterval)
}

func (c *Client) scheduleFlushIn(delay time.Duration) {
	c.cancelFlushTimer()
	c.flushPending = true
	c.flushTimer = time.NewTimer(delay)
}

func (c *Client) cancelFlushTimer() {
	if c.flushTimer != nil {
		c.flushTimer.Stop()
		c.flushTimer = nil
	}
	c.flushPending = false
}

// flushNow pops and sends chunks while the socket accepts them
func (c *Client) flushNow() {
	if c.flushing {
		return
	}
	c.flushing = true
	defer func() { c.flushing = false }()

	for c.socket.isWritable() && c.queue.hasPending() {
		chunk := c.queue.popChunk(c.mode, c.config.ChunkSizeLimit, c.config.ChunkLengthLimit)
		if chunk == nil {
			break
		}
		if !c.sendChunk(chunk) {
			break
		}
	}
	c.maybeFinishDisconnect()
}

// sendChunk writes one chunk; false stops the current flush round
func (c *Client) sendChunk(chunk *pendingChunk) bool {
	chunkID := ""
	if c.config.Ack.Enabled {
		chunkID = newChunkID()
	}
	frame, err := forwardprotocol.EncodeChunk(c.mode, chunk.tag, chunk.protocolEntries(), chunkID)
	if err != nil {
		c.logger.Errorf("failed to encode chunk for tag %s: %v", chunk.tag, err)
		settleAll(chunk.futures(), &DataTypeError{Reason: err.Error()})
		return true
	}
	if werr := c.socket.write(frame); werr != nil {
		c.handleWriteFailure(chunk, werr)
		return false
	}
	c.writeAttempts = 0
	metricChunksSent.Inc()
	if c.config.Ack.Enabled {
		c.tracker.register(chunkID, chunk.tag, chunk.futures(), time.Now().Add(c.config.Ack.AckTimeout))
	} else {
		settleAll(chunk.futures(), nil)
	}
	return true
}

func (c *Client) handleWriteFailure(chunk *pendingChunk, err error) {
	metricWriteErrors.Inc()
	if c.config.EventRetry == nil {
		settleAll(chunk.futures(), err)
		return
	}
	c.writeAttempts++
	attempt := c.writeAttempts
	if c.config.EventRetry.OnError != nil {
		c.config.EventRetry.OnError(err, attempt)
	}
	delay, ok := c.config.EventRetry.nextDelay(attempt)
	if !ok {
		c.logger.Errorf("gave up resending chunk for tag %s after %d attempts: %v", chunk.tag, attempt, err)
		c.writeAttempts = 0
		settleAll(chunk.futures(), err)
		return
	}
	c.logger.Warnf("resending chunk for tag %s in %v (attempt %d): %v", chunk.tag, delay, attempt, err)
	c.queue.requeueChunk(chunk)
	c.scheduleFlushIn(delay)
}

func (c *Client) handleSocketEvent(event socketEvent) {
	switch event.kind {
	case socketConnected:
		metricConnections.Inc()
		c.fire(EventConnected, nil)
	case socketWritable:
		c.fire(EventWritable, nil)
		c.flushNow()
	case socketAck:
		if c.tracker.resolve(event.chunkID) {
			metricAcksReceived.Inc()
			c.maybeFinishDisconnect()
		}
		c.fire(EventAck, event.chunkID)
	case socketError:
		c.fire(EventError, event.err)
		c.failInflightChunks()
	case socketEnd:
		c.fire(EventEnd, nil)
		c.failInflightChunks()
		if c.socket.currentState() == stateFatal && c.disconnectReq != nil {
			// the queue can never drain on a dead socket
			c.finishDisconnect()
		}
	}
}

// failInflightChunks settles chunks awaiting acks on a lost connection;
// the server may have received them, but the acks can no longer arrive
func (c *Client) failInflightChunks() {
	if !c.config.Ack.Enabled || c.socket.isWritable() {
		return
	}
	if numCancelled := c.tracker.cancelAll(); numCancelled > 0 {
		c.maybeFinishDisconnect()
	}
}

func (c *Client) fire(event string, payload interface{}) {
	for _, handler := range c.handlers[event] {
		handler(payload)
	}
}

func (c *Client) beginDisconnect(done *Future) {
	if c.disconnectReq != nil {
		done.settle(nil)
		return
	}
	c.disconnectReq = &disconnectRequest{
		waitForPending: c.config.DisconnectWaitForPending,
		done:           done,
	}
	c.cancelFlushTimer()
	c.flushNow()
	c.maybeFinishDisconnect()
}

func (c *Client) maybeFinishDisconnect() {
	req := c.disconnectReq
	if req == nil {
		return
	}
	if req.waitForPending && (c.queue.hasPending() || c.tracker.pending() > 0) {
		return
	}
	c.finishDisconnect()
}

func (c *Client) finishDisconnect() {
	req := c.disconnectReq
	c.disconnectReq = nil
	c.socket.shutdown()
	c.tracker.cancelAll()
	if numDropped := c.queue.dropAll(&DroppedError{Reason: "client is disconnected"}); numDropped > 0 {
		metricEventsDropped.Add(float64(numDropped))
	}
	req.done.settle(nil)
}

func (c *Client) doShutdown() {
	if c.shuttingDown {
		return
	}
	c.shuttingDown = true
	c.cancelFlushTimer()
	if numDropped := c.queue.dropAll(&DroppedError{Reason: "client is shut down"}); numDropped > 0 {
		metricEventsDropped.Add(float64(numDropped))
	}
	c.tracker.cancelAll()
	c.socket.shutdown()
	if c.disconnectReq != nil {
		c.disconnectReq.done.settle(nil)
		c.disconnectReq = nil
	}
	close(c.stopLoop)
}

func (c *Client) ackSweepInterval() time.Duration {
	if !c.config.Ack.Enabled {
		return time.Minute
	}
	interval := c.config.Ack.AckTimeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	if interval > time.Second {
		interval = time.Second
	}
	return interval
}
