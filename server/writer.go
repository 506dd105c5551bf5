package server

import (
	"net"
	"time"

	"github.com/ffuentes/fluentforward/server/receivers"
	"github.com/relex/gotils/channels"
	"github.com/relex/gotils/logger"
)

// writerItem carries one decoded message through the single dispatching
// goroutine. respond, when set, writes the chunk acknowledgement and is
// called only after the receiver accepted the message. done, when set, is
// closed once the item has been fully handled.
type writerItem struct {
	message receivers.ClientMessage
	conn    net.Conn
	respond func()
	done    chan struct{}
}

func launchWriter(wlogger logger.Logger, receiver receivers.Receiver) (chan writerItem, channels.Awaitable) {
	outputChan := make(chan writerItem, 1000)
	endSignal := channels.NewSignalAwaitable()

	go func() {
		defer endSignal.Signal()

		numMessage := 0
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

	RECEIVE_LOOP:
		for {
			select {
			case item, ok := <-outputChan:
				if !ok {
					break RECEIVE_LOOP
				}
				numMessage++
				if err := receiver.Accept(item.message); err != nil {
					// no ack for the failed message; drop the connection so
					// the client knows to resend
					wlogger.Errorf("failed to accept message: %v", err)
					item.conn.Close()
				} else if item.respond != nil {
					item.respond()
				}
				if item.done != nil {
					close(item.done)
				}
			case <-ticker.C:
				if err := receiver.Tick(); err != nil {
					wlogger.Fatalf("failed to tick: %v", err)
				}
			}
		}

		if err := receiver.End(); err != nil {
			wlogger.Fatalf("failed to close receiver: %v", err)
		}
		wlogger.Infof("written %d messages", numMessage)
	}()

	return outputChan, endSignal
}
