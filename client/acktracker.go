package client

import (
	"encoding/base64"
	"time"

	"github.com/google/uuid"
)

// newChunkID returns a fresh base64-encoded 128-bit chunk identifier
func newChunkID() string {
	id := uuid.New()
	return base64.StdEncoding.EncodeToString(id[:])
}

type inflightChunk struct {
	chunkID  string
	tag      string
	futures  []*Future
	deadline time.Time
}

// ackTracker maps in-flight chunk IDs to their pending futures. It is owned
// by the client loop; all calls are serialized there.
type ackTracker struct {
	chunks map[string]*inflightChunk
	order  []string // registration order, for deterministic sweeping
}

func newAckTracker() *ackTracker {
	return &ackTracker{
		chunks: make(map[string]*inflightChunk),
	}
}

func (t *ackTracker) register(chunkID string, tag string, futures []*Future, deadline time.Time) {
	t.chunks[chunkID] = &inflightChunk{
		chunkID:  chunkID,
		tag:      tag,
		futures:  futures,
		deadline: deadline,
	}
	t.order = append(t.order, chunkID)
}

// resolve settles the chunk's futures as delivered; false if the ID is unknown
func (t *ackTracker) resolve(chunkID string) bool {
	chunk, exists := t.chunks[chunkID]
	if !exists {
		return false
	}
	settleAll(chunk.futures, nil)
	t.remove(chunkID)
	return true
}

// sweep fails every chunk whose deadline has passed, returning the number of expired chunks
func (t *ackTracker) sweep(now time.Time) int {
	numExpired := 0
	for _, chunkID := range append([]string{}, t.order...) {
		chunk, exists := t.chunks[chunkID]
		if !exists || chunk.deadline.After(now) {
			continue
		}
		settleAll(chunk.futures, &AckTimeoutError{ChunkID: chunkID})
		t.remove(chunkID)
		numExpired++
	}
	return numExpired
}

// cancelAll fails every in-flight chunk, e.g. on socket loss or client shutdown
func (t *ackTracker) cancelAll() int {
	numCancelled := len(t.order)
	for _, chunkID := range t.order {
		if chunk, exists := t.chunks[chunkID]; exists {
			settleAll(chunk.futures, &AckShutdownError{ChunkID: chunkID})
		}
	}
	t.chunks = make(map[string]*inflightChunk)
	t.order = nil
	return numCancelled
}

func (t *ackTracker) pending() int {
	return len(t.chunks)
}

func (t *ackTracker) remove(chunkID string) {
	delete(t.chunks, chunkID)
	for i, id := range t.order {
		if id == chunkID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}
