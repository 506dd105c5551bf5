package forwardprotocol

import (
	"fmt"
)

// MessageMode determines the format in which Message.Entries are serialized
// The mode is to be detected by upstream, not itself specified during communication
type MessageMode string

const (
	// ModeMessage serializes each log as its own msgpack array with inline time and record
	ModeMessage MessageMode = "Message"

	// ModeForward serializes logs as a msgpack array, the original and fluent-bit compatible format
	ModeForward MessageMode = "Forward"

	// ModePackedForward packs serialized logs as a msgpack binary (double msgpack)
	ModePackedForward MessageMode = "PackedForward"

	// ModeCompressedPackedForward packs gzipped and serialized logs as a msgpack binary (double msgpack)
	// In production this should always be used because the saving of space and network bandwidth is 20-50x
	ModeCompressedPackedForward MessageMode = "CompressedPackedForward"
)

// ParseMessageMode checks a mode name from configuration and returns the matching MessageMode
func ParseMessageMode(name string) (MessageMode, error) {
	switch MessageMode(name) {
	case ModeMessage, ModeForward, ModePackedForward, ModeCompressedPackedForward:
		return MessageMode(name), nil
	default:
		return "", fmt.Errorf("unknown message mode '%s'", name)
	}
}

// Message is the request msg to forward a chunk of logs
// The struct is not used directly for encoding but serves as a reference
type Message struct {
	_msgpack struct{}        `msgpack:",asArray"`
	Tag      string          `msgpack:"tag"`
	Entries  []EventEntry    `msgpack:"entries"` // Depending on MessageMode, the entries may be serialized as-is or in other formats
	Option   TransportOption `msgpack:"option"`
}

// EventEntry represents a single log record in forward messages
// The struct is not used directly for encoding but serves as a reference
type EventEntry struct {
	_msgpack struct{}               `msgpack:",asArray"`
	Time     EventTime              `msgpack:"time"`
	Record   map[string]interface{} `msgpack:"record"`
}

// ResolvePath resolves the value of a nested field in the record, e.g. ("http", "statusCode")
func (entry EventEntry) ResolvePath(path ...string) (interface{}, error) {
	var node interface{} = entry.Record
	for i, key := range path {
		currMap, ok := node.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("failed to resolve %v at step %d: '%s' is not a map[string]interface{}: type=%T value=%v",
				path, i, path[i-1], node, node)
		}
		next, exists := currMap[key]
		if !exists {
			return nil, fmt.Errorf("failed to resolve %v at step %d: '%s' does not exist", path, i+1, key)
		}
		node = next
	}
	return node, nil
}

// TransportOption is the option of each transport request (last value of array)
type TransportOption struct {
	_msgpack   struct{} `msgpack:",omitempty"`
	Size       int      `msgpack:"size" json:"size"`             // The numbers of log records in this msg
	Chunk      string   `msgpack:"chunk" json:"chunk"`           // Chunk ID, omitted if a response from server as ACK is not needed
	Compressed string   `msgpack:"compressed" json:"compressed"` // set to CompressionFormat for "CompressedPackedForward" mode
}

// Ack is the acknowledgement or response from server to client for receiving a chunk
type Ack struct {
	Ack string `msgpack:"ack"` // equals to TransportOption.Chunk of the received message
}

// CompressionFormat defines the compression format, only "gzip" is supported
const CompressionFormat = "gzip"

// DefaultPort is the standard Fluentd forward port for both listening and connecting
const DefaultPort = 24224

// unusedStruct silences linters about the dummy fields carrying msgpack struct tags
func unusedStruct(_ struct{}) {}

func init() {
	unusedStruct(Message{}._msgpack)
	unusedStruct(EventEntry{}._msgpack)
	unusedStruct(TransportOption{}._msgpack)
}
