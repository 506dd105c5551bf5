package forwardprotocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ffuentes/fluentforward/util"
	"github.com/vmihailenco/msgpack/v4"
)

// EventTime represents the custom timestamp type used by Fluentd
type EventTime struct {
	time.Time
}

// MaxEventTimeSeconds is the exclusive upper bound of epoch seconds representable in EventTime
const MaxEventTimeSeconds = int64(1) << 32

func init() {
	msgpack.RegisterExt(0, (*EventTime)(nil))
}

// NewEventTime creates an EventTime from epoch seconds and nanoseconds
func NewEventTime(sec int64, nsec int64) EventTime {
	return EventTime{time.Unix(sec, nsec)}
}

// EventTimeFromMilliseconds creates an EventTime from epoch milliseconds,
// keeping sub-second precision in the nanoseconds part
func EventTimeFromMilliseconds(ms int64) EventTime {
	return EventTime{time.Unix(ms/1000, (ms%1000)*int64(time.Millisecond))}
}

// EventTimeNow creates an EventTime from the current wall clock
func EventTimeNow() EventTime {
	return EventTime{time.Now()}
}

// CheckEventTimeRange returns an error if the given time cannot be encoded as (uint32, uint32)
func CheckEventTimeRange(tm time.Time) error {
	sec := tm.Unix()
	if sec < 0 || sec >= MaxEventTimeSeconds {
		return fmt.Errorf("epoch seconds out of uint32 range: %d", sec)
	}
	return nil
}

// MarshalJSON defines custom JSON marshaling for log record to match its msgpack format (the simplest Forward mode)
func (tm EventTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(util.TimeToUnixFloat(tm.Time))
}

// MarshalMsgpack encodes EventTime in msgpack format
func (tm EventTime) MarshalMsgpack() ([]byte, error) {
	// from https://godoc.org/github.com/vmihailenco/msgpack#example-RegisterExt
	b := make([]byte, 8)
	binary.BigEndian.PutUint32(b, uint32(tm.Unix()))
	binary.BigEndian.PutUint32(b[4:], uint32(tm.Nanosecond()))
	return b, nil
}

// UnmarshalMsgpack decodes EventTime from msgpack bytes
func (tm *EventTime) UnmarshalMsgpack(b []byte) error {
	// from https://godoc.org/github.com/vmihailenco/msgpack#example-RegisterExt
	if len(b) != 8 {
		return fmt.Errorf("invalid data length: got %d, wanted 8", len(b))
	}
	sec := binary.BigEndian.Uint32(b)
	nsec := binary.BigEndian.Uint32(b[4:])
	tm.Time = time.Unix(int64(sec), int64(nsec))
	return nil
}
