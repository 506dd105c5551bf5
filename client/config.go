package client

import (
	"strings"
	"time"
	"unicode"

	"github.com/ffuentes/fluentforward/protocol/forwardprotocol"
)

// AckConfig enables per-chunk acknowledgement tracking
type AckConfig struct {
	Enabled    bool          `help:"Request a server acknowledgement for every chunk"`
	AckTimeout time.Duration `help:"Deadline for a chunk acknowledgement"`
}

// Config enumerates all client options
type Config struct {
	TagPrefix    string `help:"Prefix prepended to the tag of every event"`
	EventMode    string `help:"One of Message, Forward, PackedForward, CompressedPackedForward"`
	Milliseconds bool   `help:"Treat numeric timestamps passed to Emit as epoch milliseconds"`

	SharedKey string `help:"Shared key for the handshake"`
	Username  string `help:"Username, when the server requires user authentication"`
	Password  string `help:"Password, when the server requires user authentication"`

	Ack           AckConfig
	FlushInterval time.Duration `help:"Delay before queued events are flushed; 0 flushes on the next loop turn"`

	ChunkSizeLimit   int64 `help:"Estimated byte size cap of one chunk"`
	ChunkLengthLimit int   `help:"Entry count cap of one chunk"`

	SendQueueMaxLimit           QueueLimit // hard cap; new events over it are dropped
	SendQueueNotFlushableLimit  QueueLimit // cap applied only while the socket is not writable
	SendQueueIntervalFlushLimit QueueLimit // over it, the scheduled flush is brought forward
	SendQueueSyncFlushLimit     QueueLimit // over it, an in-line flush runs right after the push

	EventRetry               *RetryConfig // retry failed chunk writes when set
	DisconnectWaitForPending bool         `help:"Disconnect() waits until the queue is empty"`

	Socket SocketConfig
}

func (config *Config) validate() (forwardprotocol.MessageMode, error) {
	if err := validateTag(config.TagPrefix); err != nil {
		return "", err
	}
	modeName := config.EventMode
	if modeName == "" {
		modeName = string(forwardprotocol.ModeForward)
	}
	mode, err := forwardprotocol.ParseMessageMode(modeName)
	if err != nil {
		return "", &ConfigError{Reason: err.Error()}
	}
	if config.FlushInterval < 0 {
		return "", &ConfigError{Reason: "flush interval must not be negative"}
	}
	if config.Ack.AckTimeout < 0 {
		return "", &ConfigError{Reason: "ack timeout must not be negative"}
	}
	return mode, nil
}

func (config *Config) applyDefaults() {
	config.Socket = config.Socket.withDefaults()
	if config.Ack.Enabled && config.Ack.AckTimeout == 0 {
		config.Ack.AckTimeout = 10 * time.Second
	}
	if config.ChunkSizeLimit <= 0 {
		config.ChunkSizeLimit = 8 * 1024 * 1024
	}
	if config.ChunkLengthLimit <= 0 {
		config.ChunkLengthLimit = 1000
	}
	if config.EventRetry != nil {
		withDefaults := config.EventRetry.withDefaults()
		config.EventRetry = &withDefaults
	}
}

func validateTag(tag string) error {
	if tag == "" {
		return &ConfigError{Reason: "tag prefix must not be empty"}
	}
	for i := 0; i < len(tag); i++ {
		if tag[i] > unicode.MaxASCII {
			return &ConfigError{Reason: "tag prefix must be ASCII: " + tag}
		}
	}
	for _, segment := range strings.Split(tag, ".") {
		if segment == "" {
			return &ConfigError{Reason: "tag prefix must not contain empty segments: " + tag}
		}
	}
	return nil
}
