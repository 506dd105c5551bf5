package forwardprotocol

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v4"
)

// EncodeChunk serializes the entries under one tag into a complete forward-protocol frame
//
// chunkID may be empty when no acknowledgement is requested
func EncodeChunk(mode MessageMode, tag string, entries []EventEntry, chunkID string) ([]byte, error) {
	buffer := &bytes.Buffer{}
	if err := EncodeChunkTo(msgpack.NewEncoder(buffer), mode, tag, entries, chunkID); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// EncodeChunkTo serializes the entries under one tag as a frame written to the given encoder
func EncodeChunkTo(encoder *msgpack.Encoder, mode MessageMode, tag string, entries []EventEntry, chunkID string) error {
	switch mode {
	case ModeMessage:
		// Message mode frames carry one event each; callers batch by popping single-entry chunks
		if len(entries) != 1 {
			return fmt.Errorf("message mode carries exactly one entry per frame, got %d", len(entries))
		}
		numFields := 3
		if chunkID != "" {
			numFields = 4
		}
		if err := encoder.EncodeArrayLen(numFields); err != nil {
			return err
		}
		if err := encoder.EncodeString(tag); err != nil {
			return err
		}
		if err := encoder.Encode(entries[0].Time); err != nil {
			return err
		}
		if err := encoder.Encode(entries[0].Record); err != nil {
			return err
		}
		if numFields == 4 {
			return encoder.Encode(&TransportOption{Chunk: chunkID})
		}
		return nil

	case ModeForward:
		return encoder.Encode(&Message{
			Tag:     tag,
			Entries: entries,
			Option:  TransportOption{Size: len(entries), Chunk: chunkID},
		})

	case ModePackedForward, ModeCompressedPackedForward:
		compressed := mode == ModeCompressedPackedForward
		packed, err := packEntries(entries, compressed)
		if err != nil {
			return fmt.Errorf("failed to pack %d entries: %w", len(entries), err)
		}
		option := TransportOption{Size: len(entries), Chunk: chunkID}
		if compressed {
			option.Compressed = CompressionFormat
		}
		if err := encoder.EncodeArrayLen(3); err != nil {
			return err
		}
		if err := encoder.EncodeString(tag); err != nil {
			return err
		}
		if err := encoder.EncodeBytes(packed); err != nil {
			return err
		}
		return encoder.Encode(&option)

	default:
		return fmt.Errorf("unknown message mode '%s'", mode)
	}
}

func packEntries(entries []EventEntry, compress bool) ([]byte, error) {
	buffer := &bytes.Buffer{}
	if compress {
		zwriter := gzip.NewWriter(buffer)
		if err := encodeEntriesStream(zwriter, entries); err != nil {
			return nil, err
		}
		if err := zwriter.Close(); err != nil {
			return nil, err
		}
		return buffer.Bytes(), nil
	}
	if err := encodeEntriesStream(buffer, entries); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func encodeEntriesStream(writer io.Writer, entries []EventEntry) error {
	encoder := msgpack.NewEncoder(writer)
	for i := range entries {
		if err := encoder.Encode(&entries[i]); err != nil {
			return err
		}
	}
	return nil
}
