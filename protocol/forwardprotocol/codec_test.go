package forwardprotocol

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/vmihailenco/msgpack/v4"
)

func makeTestEntries() []EventEntry {
	return []EventEntry{
		{
			Time: EventTime{Time: time.Date(2022, 3, 14, 15, 9, 26, 535000000, time.UTC)},
			Record: map[string]interface{}{
				"msg":  "hello",
				"host": "web-1",
			},
		},
		{
			Time: EventTime{Time: time.Date(2022, 3, 14, 15, 9, 27, 0, time.UTC)},
			Record: map[string]interface{}{
				"msg":  "world",
				"host": "web-2",
			},
		},
	}
}

func TestEventTimeRoundTrip(t *testing.T) {
	for _, pair := range [][2]int64{{0, 0}, {1600000000, 999999999}, {4294967295, 1}} {
		tm := NewEventTime(pair[0], pair[1])
		bin, merr := tm.MarshalMsgpack()
		assert.Nil(t, merr)
		assert.Len(t, bin, 8)

		decoded := EventTime{}
		assert.Nil(t, decoded.UnmarshalMsgpack(bin))
		assert.Equal(t, pair[0], decoded.Unix())
		assert.Equal(t, int(pair[1]), decoded.Nanosecond())
	}

	bad := EventTime{}
	assert.NotNil(t, bad.UnmarshalMsgpack([]byte{1, 2, 3}))
}

func TestEventTimeFromMilliseconds(t *testing.T) {
	tm := EventTimeFromMilliseconds(1647270566535)
	assert.Equal(t, int64(1647270566), tm.Unix())
	assert.Equal(t, 535000000, tm.Nanosecond())
}

func TestCheckEventTimeRange(t *testing.T) {
	assert.Nil(t, CheckEventTimeRange(time.Unix(0, 0)))
	assert.Nil(t, CheckEventTimeRange(time.Unix(MaxEventTimeSeconds-1, 0)))
	assert.NotNil(t, CheckEventTimeRange(time.Unix(MaxEventTimeSeconds, 0)))
	assert.NotNil(t, CheckEventTimeRange(time.Unix(-1, 0)))
}

func TestChunkRoundTripAllModes(t *testing.T) {
	for _, mode := range []MessageMode{ModeForward, ModePackedForward, ModeCompressedPackedForward} {
		entries := makeTestEntries()
		bin, err := EncodeChunk(mode, "test.foo", entries, "Y2h1bmstaWQ=")
		assert.Nil(t, err, string(mode))

		var decoded Message
		assert.Nil(t, msgpack.NewDecoder(bytes.NewReader(bin)).Decode(&decoded), string(mode))
		assert.Equal(t, "test.foo", decoded.Tag, string(mode))
		assert.Equal(t, "Y2h1bmstaWQ=", decoded.Option.Chunk, string(mode))
		assert.Equal(t, 2, decoded.Option.Size, string(mode))
		if mode == ModeCompressedPackedForward {
			assert.Equal(t, CompressionFormat, decoded.Option.Compressed, string(mode))
		}
		assert.Len(t, decoded.Entries, 2, string(mode))
		for i := range entries {
			assert.Equal(t, entries[i].Time.Unix(), decoded.Entries[i].Time.Unix(), string(mode))
			assert.Equal(t, entries[i].Time.Nanosecond(), decoded.Entries[i].Time.Nanosecond(), string(mode))
			assert.Equal(t, entries[i].Record, decoded.Entries[i].Record, string(mode))
		}
	}
}

func TestChunkRoundTripMessageMode(t *testing.T) {
	entries := makeTestEntries()[:1]

	// with chunk ID: 4-element array
	bin, err := EncodeChunk(ModeMessage, "test.foo", entries, "Y2h1bmstaWQ=")
	assert.Nil(t, err)
	var decoded Message
	assert.Nil(t, msgpack.NewDecoder(bytes.NewReader(bin)).Decode(&decoded))
	assert.Equal(t, "test.foo", decoded.Tag)
	assert.Equal(t, "Y2h1bmstaWQ=", decoded.Option.Chunk)
	assert.Len(t, decoded.Entries, 1)
	assert.Equal(t, entries[0].Record, decoded.Entries[0].Record)

	// without chunk ID: 3-element array
	bin, err = EncodeChunk(ModeMessage, "test.bar", entries, "")
	assert.Nil(t, err)
	decoded = Message{}
	assert.Nil(t, msgpack.NewDecoder(bytes.NewReader(bin)).Decode(&decoded))
	assert.Equal(t, "test.bar", decoded.Tag)
	assert.Equal(t, "", decoded.Option.Chunk)
	assert.Len(t, decoded.Entries, 1)

	// more than one entry per frame is a caller bug
	_, err = EncodeChunk(ModeMessage, "test.foo", makeTestEntries(), "")
	assert.NotNil(t, err)
}

func TestDecodeStreaming(t *testing.T) {
	buffer := &bytes.Buffer{}
	bin1, err := EncodeChunk(ModeForward, "app.a", makeTestEntries(), "")
	assert.Nil(t, err)
	bin2, err := EncodeChunk(ModePackedForward, "app.b", makeTestEntries()[:1], "c2Vjb25k")
	assert.Nil(t, err)
	buffer.Write(bin1)
	buffer.Write(bin2)

	decoder := msgpack.NewDecoder(buffer)
	var first, second Message
	assert.Nil(t, decoder.Decode(&first))
	assert.Nil(t, decoder.Decode(&second))
	assert.Equal(t, "app.a", first.Tag)
	assert.Len(t, first.Entries, 2)
	assert.Equal(t, "app.b", second.Tag)
	assert.Len(t, second.Entries, 1)
	assert.Equal(t, "c2Vjb25k", second.Option.Chunk)
}

func TestDecodeEntryWithEpochSeconds(t *testing.T) {
	// fluent-bit and older clients send plain epoch numbers instead of EventTime
	buffer := &bytes.Buffer{}
	encoder := msgpack.NewEncoder(buffer)
	assert.Nil(t, encoder.EncodeArrayLen(3))
	assert.Nil(t, encoder.EncodeString("legacy.app"))
	assert.Nil(t, encoder.EncodeArrayLen(1))
	assert.Nil(t, encoder.EncodeArrayLen(2))
	assert.Nil(t, encoder.EncodeInt(1647270566))
	assert.Nil(t, encoder.Encode(map[string]interface{}{"msg": "old"}))
	assert.Nil(t, encoder.Encode(&TransportOption{Size: 1}))

	var decoded Message
	assert.Nil(t, msgpack.NewDecoder(buffer).Decode(&decoded))
	assert.Len(t, decoded.Entries, 1)
	assert.Equal(t, int64(1647270566), decoded.Entries[0].Time.Unix())
}

func TestDecodeUnexpectedShape(t *testing.T) {
	// a 5-element top-level array matches no known event mode
	buffer := &bytes.Buffer{}
	encoder := msgpack.NewEncoder(buffer)
	assert.Nil(t, encoder.EncodeArrayLen(5))
	for i := 0; i < 5; i++ {
		assert.Nil(t, encoder.EncodeString("x"))
	}
	var decoded Message
	err := msgpack.NewDecoder(buffer).Decode(&decoded)
	assert.NotNil(t, err)

	// a map at top level is not a message either
	buffer.Reset()
	assert.Nil(t, msgpack.NewEncoder(buffer).Encode(map[string]interface{}{"ack": "x"}))
	err = msgpack.NewDecoder(buffer).Decode(&decoded)
	assert.NotNil(t, err)
}
