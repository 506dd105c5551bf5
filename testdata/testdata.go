// Package testdata contains shared sample logs for tests
package testdata

import (
	"time"

	"github.com/ffuentes/fluentforward/protocol/forwardprotocol"
)

// MakeSampleMessage creates a deterministic two-entry message for tests
func MakeSampleMessage(tag string) forwardprotocol.Message {
	return forwardprotocol.Message{
		Tag: tag,
		Entries: []forwardprotocol.EventEntry{
			{
				Time: forwardprotocol.EventTime{Time: time.Date(2022, 1, 14, 10, 30, 55, 0, time.UTC)},
				Record: map[string]interface{}{
					"role": "Salesman",
					"msg":  "Log S 1",
				},
			},
			{
				Time: forwardprotocol.EventTime{Time: time.Date(2022, 1, 14, 10, 31, 2, 0, time.UTC)},
				Record: map[string]interface{}{
					"role": "Customer",
					"msg":  "Log C 1",
				},
			},
		},
		Option: forwardprotocol.TransportOption{Size: 2},
	}
}
