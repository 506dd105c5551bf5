package client

import (
	"github.com/ffuentes/fluentforward/protocol/forwardprotocol"
	"golang.org/x/exp/slices"
)

// QueueLimit caps one queue dimension pair; zero values mean unlimited
type QueueLimit struct {
	Size   int64 `help:"Limit on the estimated total byte size of queued entries"`
	Length int   `help:"Limit on the number of queued entries"`
}

func (limit QueueLimit) exceededBy(size int64, length int) bool {
	return (limit.Size > 0 && size > limit.Size) ||
		(limit.Length > 0 && length > limit.Length)
}

func (limit QueueLimit) isSet() bool {
	return limit.Size > 0 || limit.Length > 0
}

type queuedEntry struct {
	time   forwardprotocol.EventTime
	record map[string]interface{}
	future *Future
	cost   int64
}

type tagQueue struct {
	entries []queuedEntry
	size    int64
}

// sendQueue buffers events per tag until flushed. Entries of the same tag
// keep their enqueue order; the oldest pending tag is always popped first.
type sendQueue struct {
	tags   []string // tags with pending entries, by arrival of their first entry
	byTag  map[string]*tagQueue
	length int
	size   int64
}

func newSendQueue() *sendQueue {
	return &sendQueue{
		byTag: make(map[string]*tagQueue),
	}
}

func (q *sendQueue) push(tag string, tm forwardprotocol.EventTime, record map[string]interface{}, future *Future) {
	entry := queuedEntry{
		time:   tm,
		record: record,
		future: future,
		cost:   estimateEntryCost(record),
	}
	tq, exists := q.byTag[tag]
	if !exists {
		tq = &tagQueue{}
		q.byTag[tag] = tq
		q.tags = append(q.tags, tag)
	}
	tq.entries = append(tq.entries, entry)
	tq.size += entry.cost
	q.length++
	q.size += entry.cost
}

func (q *sendQueue) hasPending() bool {
	return q.length > 0
}

func (q *sendQueue) totalLength() int {
	return q.length
}

func (q *sendQueue) totalSize() int64 {
	return q.size
}

// pendingChunk is a batch of same-tag entries popped for one frame
type pendingChunk struct {
	tag     string
	entries []queuedEntry
	size    int64
}

func (chunk *pendingChunk) protocolEntries() []forwardprotocol.EventEntry {
	list := make([]forwardprotocol.EventEntry, len(chunk.entries))
	for i, entry := range chunk.entries {
		list[i] = forwardprotocol.EventEntry{Time: entry.time, Record: entry.record}
	}
	return list
}

func (chunk *pendingChunk) futures() []*Future {
	list := make([]*Future, len(chunk.entries))
	for i, entry := range chunk.entries {
		list[i] = entry.future
	}
	return list
}

// popChunk removes and returns the next batch to send, or nil when empty.
// Message mode always pops a single entry; otherwise as many entries of the
// oldest pending tag as fit under maxSize and maxLength (at least one).
func (q *sendQueue) popChunk(mode forwardprotocol.MessageMode, maxSize int64, maxLength int) *pendingChunk {
	if len(q.tags) == 0 {
		return nil
	}
	tag := q.tags[0]
	tq := q.byTag[tag]

	count := len(tq.entries)
	if mode == forwardprotocol.ModeMessage {
		count = 1
	}
	if maxLength > 0 && count > maxLength {
		count = maxLength
	}
	var chunkSize int64
	taken := 0
	for taken < count {
		cost := tq.entries[taken].cost
		if maxSize > 0 && taken > 0 && chunkSize+cost > maxSize {
			break
		}
		chunkSize += cost
		taken++
	}

	chunk := &pendingChunk{
		tag:     tag,
		entries: tq.entries[:taken:taken],
		size:    chunkSize,
	}
	tq.entries = tq.entries[taken:]
	tq.size -= chunkSize
	q.length -= taken
	q.size -= chunkSize
	if len(tq.entries) == 0 {
		delete(q.byTag, tag)
		q.tags = q.tags[1:]
	}
	return chunk
}

// requeueChunk puts a popped chunk back at the head of its tag, preserving
// entry order, so a failed write can be retried as one unit
func (q *sendQueue) requeueChunk(chunk *pendingChunk) {
	tq, exists := q.byTag[chunk.tag]
	if !exists {
		tq = &tagQueue{}
		q.byTag[chunk.tag] = tq
		q.tags = slices.Insert(q.tags, 0, chunk.tag)
	}
	tq.entries = append(append([]queuedEntry{}, chunk.entries...), tq.entries...)
	tq.size += chunk.size
	q.length += len(chunk.entries)
	q.size += chunk.size
}

// dropAll settles every queued future with the given error and empties the queue
func (q *sendQueue) dropAll(err error) int {
	numDropped := q.length
	for _, tag := range q.tags {
		for _, entry := range q.byTag[tag].entries {
			entry.future.settle(err)
		}
	}
	q.tags = nil
	q.byTag = make(map[string]*tagQueue)
	q.length = 0
	q.size = 0
	return numDropped
}

// estimateEntryCost approximates the serialized byte size of one entry as
// the sum of key and value lengths plus a fixed 10-byte framing overhead;
// scalars other than strings and binaries count 8 bytes. The estimate grows
// monotonically with the real msgpack size.
func estimateEntryCost(record map[string]interface{}) int64 {
	return estimateValueCost(record) + 10
}

func estimateValueCost(value interface{}) int64 {
	switch v := value.(type) {
	case string:
		return int64(len(v))
	case []byte:
		return int64(len(v))
	case map[string]interface{}:
		var sum int64
		for key, item := range v {
			sum += int64(len(key)) + estimateValueCost(item)
		}
		return sum
	case []interface{}:
		var sum int64
		for _, item := range v {
			sum += estimateValueCost(item)
		}
		return sum
	default:
		// numbers, booleans, nil and anything else of fixed size
		return 8
	}
}
