package forwardprotocol

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/vmihailenco/msgpack/v4"
	"github.com/vmihailenco/msgpack/v4/codes"
)

var _ msgpack.CustomDecoder = (*Message)(nil)

// DecodeMsgpack is the custom msgpack decoding implementation for Message, in order to decode Entries properly
//
// See MessageMode for different types of Entries encoding; the mode of each incoming
// message is detected from the shape of the second array element
func (msg *Message) DecodeMsgpack(decoder *msgpack.Decoder) error {
	arrayLen, err := decoder.DecodeArrayLen()
	if err != nil {
		return fmt.Errorf("message's field count: %w", err)
	}
	if arrayLen < 2 || arrayLen > 4 {
		return &UnexpectedMessageError{Reason: fmt.Sprintf("message's field count: %d (should be 2 to 4)", arrayLen)}
	}
	tag, err := decoder.DecodeString()
	if err != nil {
		return fmt.Errorf("message's tag: %w", err)
	}
	msg.Tag = tag
	msg.Entries = nil
	msg.Option = TransportOption{}

	code, cerr := decoder.PeekCode()
	if cerr != nil {
		return fmt.Errorf("message's entries code: %w", cerr)
	}
	switch {
	case isArrayCode(code):
		// Forward mode: array of [time, record] pairs
		if arrayLen > 3 {
			return &UnexpectedMessageError{Reason: fmt.Sprintf("forward message's field count: %d (should be 2 or 3)", arrayLen)}
		}
		if err := decoder.Decode(&msg.Entries); err != nil {
			return fmt.Errorf("message's entries as array of logs: %w", err)
		}
		if arrayLen == 3 {
			if err := decoder.Decode(&msg.Option); err != nil {
				return fmt.Errorf("message's option map: %w", err)
			}
		}
	case codes.IsBin(code):
		// PackedForward / CompressedPackedForward mode: concatenated msgpack stream, possibly gzipped
		if arrayLen > 3 {
			return &UnexpectedMessageError{Reason: fmt.Sprintf("packed message's field count: %d (should be 2 or 3)", arrayLen)}
		}
		var entriesBinary []byte
		if err := decoder.Decode(&entriesBinary); err != nil {
			return fmt.Errorf("message's entries as binary: %w", err)
		}
		if arrayLen == 3 {
			if err := decoder.Decode(&msg.Option); err != nil {
				return fmt.Errorf("message's option map: %w", err)
			}
		}
		compressed := msg.Option.Compressed != ""
		entries, err := decodePackedEntriesStream(entriesBinary, compressed, msg.Option.Size)
		if err != nil {
			return fmt.Errorf("message's entries binary (compressed=%t): %w", compressed, err)
		}
		msg.Entries = entries
	case codes.IsExt(code) || isTimeCode(code):
		// Message mode: inline time and record
		if arrayLen < 3 {
			return &UnexpectedMessageError{Reason: "single-event message lacks a record"}
		}
		tm, terr := decodeEventTimeValue(decoder)
		if terr != nil {
			return fmt.Errorf("message's time: %w", terr)
		}
		var record map[string]interface{}
		if err := decoder.Decode(&record); err != nil {
			return fmt.Errorf("message's record map: %w", err)
		}
		if arrayLen == 4 {
			if err := decoder.Decode(&msg.Option); err != nil {
				return fmt.Errorf("message's option map: %w", err)
			}
		}
		msg.Entries = []EventEntry{{Time: tm, Record: record}}
	default:
		return &UnexpectedMessageError{Reason: fmt.Sprintf("message's entries code: %x", code)}
	}
	return nil
}

var _ msgpack.CustomDecoder = (*EventEntry)(nil)

// DecodeMsgpack decodes a single [time, record] pair, accepting both EventTime
// extension values and plain epoch numbers for the time element
func (entry *EventEntry) DecodeMsgpack(decoder *msgpack.Decoder) error {
	arrayLen, err := decoder.DecodeArrayLen()
	if err != nil {
		return fmt.Errorf("entry's field count: %w", err)
	}
	if arrayLen != 2 {
		return fmt.Errorf("entry's field count: %d (should be 2)", arrayLen)
	}
	tm, terr := decodeEventTimeValue(decoder)
	if terr != nil {
		return fmt.Errorf("entry's time: %w", terr)
	}
	entry.Time = tm
	if err := decoder.Decode(&entry.Record); err != nil {
		return fmt.Errorf("entry's record map: %w", err)
	}
	return nil
}

func decodeEventTimeValue(decoder *msgpack.Decoder) (EventTime, error) {
	var tm EventTime
	code, err := decoder.PeekCode()
	if err != nil {
		return tm, err
	}
	switch {
	case codes.IsExt(code):
		err := decoder.Decode(&tm)
		return tm, err
	case code == codes.Float || code == codes.Double:
		flt, ferr := decoder.DecodeFloat64()
		if ferr != nil {
			return tm, ferr
		}
		sec := int64(flt)
		return EventTime{time.Unix(sec, int64((flt-float64(sec))*float64(time.Second)))}, nil
	default:
		sec, serr := decoder.DecodeInt64()
		if serr != nil {
			return tm, serr
		}
		return NewEventTime(sec, 0), nil
	}
}

func isArrayCode(code codes.Code) bool {
	return codes.IsFixedArray(code) || code == codes.Array16 || code == codes.Array32
}

func isTimeCode(code codes.Code) bool {
	return codes.IsFixedNum(code) ||
		(code >= codes.Uint8 && code <= codes.Int64) ||
		code == codes.Float || code == codes.Double
}

func decodePackedEntriesStream(v []byte, compressed bool, size int) ([]EventEntry, error) {
	var reader io.Reader = bytes.NewReader(v)
	if compressed {
		zreader, zerr := gzip.NewReader(reader)
		if zerr != nil {
			return nil, zerr
		}
		reader = zreader
	}
	decoder := msgpack.NewDecoder(reader)
	list := make([]EventEntry, 0, size)
	for {
		var record EventEntry
		if err := decoder.Decode(&record); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return list, err
		}
		list = append(list, record)
	}
	return list, nil
}
