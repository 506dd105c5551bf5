package dump

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"

	"github.com/ffuentes/fluentforward/protocol/fluentbitchunk"
	"github.com/ffuentes/fluentforward/protocol/forwardprotocol"
	"github.com/ffuentes/fluentforward/util"
	"github.com/vmihailenco/msgpack/v4"
)

// PrintChunkFileInJSON dumps all logs in the given file in JSON format
//
// The file may be a fluent-bit chunk file (.flb) or a Fluentd forward message
// in msgpack format
func PrintChunkFileInJSON(path string, indented bool, writer io.Writer) error {
	fileData, fileError := ioutil.ReadFile(path)
	if fileError != nil {
		return fmt.Errorf("failed to open %s: %w", path, fileError)
	}

	if flbTag, flbPayload, flbError := fluentbitchunk.ParseChunk(fileData); flbError == nil {
		numEvents := 0
		iterError := fluentbitchunk.IterateRecords(flbPayload, func(event forwardprotocol.EventEntry) error {
			perr := PrintEventInJSON(event, flbTag, indented, writer, numEvents == 0)
			numEvents++
			return perr
		})
		if iterError != nil {
			return fmt.Errorf("corrupted fluent-bit chunk file %s: %w", path, iterError)
		}
		return endEventsInJSON(indented, writer, numEvents)
	}

	var message forwardprotocol.Message
	if msgError := msgpack.NewDecoder(bytes.NewReader(fileData)).Decode(&message); msgError != nil {
		return fmt.Errorf("failed to decode forward message file %s: %w", path, msgError)
	}
	return PrintMessageInJSON(message, indented, writer)
}

// PrintMessageInJSON dumps all logs in the given message in JSON format
//
// In indented mode the output is one JSON array of events; otherwise each
// event is a single line terminated by a newline (no valid JSON separator)
func PrintMessageInJSON(message forwardprotocol.Message, indented bool, writer io.Writer) error {
	for i, event := range message.Entries {
		if err := PrintEventInJSON(event, message.Tag, indented, writer, i == 0); err != nil {
			return err
		}
	}
	return endEventsInJSON(indented, writer, len(message.Entries))
}

// PrintEventInJSON prints a single log event as "[tag, time, record]"
//
// In indented mode the first event opens a JSON array which the caller ends
// via EndEventsInJSON or by writing "\n]\n"
func PrintEventInJSON(event forwardprotocol.EventEntry, tag string, indented bool, writer io.Writer, isFirst bool) error {
	var jsonBin []byte
	var jsonErr error
	value := []interface{}{
		tag,
		util.TimeToUnixFloat(event.Time.Time),
		event.Record,
	}
	if indented {
		jsonBin, jsonErr = json.MarshalIndent(value, "", "  ")
	} else {
		jsonBin, jsonErr = json.Marshal(value)
	}
	if jsonErr != nil {
		return fmt.Errorf("failed to marshal as JSON: %v: %w", event, jsonErr)
	}
	var prefix string
	if indented {
		if isFirst {
			prefix = "[\n"
		} else {
			prefix = ",\n"
		}
	}
	if _, werr := writer.Write([]byte(prefix)); werr != nil {
		return fmt.Errorf("failed to print JSON: %w", werr)
	}
	if _, werr := writer.Write(jsonBin); werr != nil {
		return fmt.Errorf("failed to print JSON: %w", werr)
	}
	if !indented {
		if _, werr := writer.Write([]byte("\n")); werr != nil {
			return fmt.Errorf("failed to print JSON: %w", werr)
		}
	}
	return nil
}

func endEventsInJSON(indented bool, writer io.Writer, numEvents int) error {
	if !indented || numEvents == 0 {
		return nil
	}
	_, werr := writer.Write([]byte("\n]\n"))
	return werr
}
