package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// registerRecorderClient registers an SSE client backed by a recorder and
// returns both, cleaning up the registry when the test ends.
func registerRecorderClient(t *testing.T, partyCode string) (*SSEClient, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	client := &SSEClient{
		PartyCode: partyCode,
		Writer:    w,
		Flusher:   w,
		Done:      make(chan bool),
	}

	sseClientsMutex <- true
	sseClients[partyCode] = append(sseClients[partyCode], client)
	<-sseClientsMutex

	t.Cleanup(func() { unregisterSSEClient(client) })
	return client, w
}

func TestBroadcastSSEUpdate_PartyIsolation(t *testing.T) {
	_, wA := registerRecorderClient(t, "PARTYA")
	_, wB := registerRecorderClient(t, "PARTYB")

	event, err := json.Marshal(map[string]string{"type": EventVibeAdded, "party": "A"})
	assert.NoError(t, err)

	BroadcastSSEUpdate("PARTYA", event)

	assert.Contains(t, wA.Body.String(), `"type":"vibe_added"`)
	assert.Empty(t, wB.Body.String(), "clients of other parties must not receive the event")
}

func TestBroadcastSSEUpdate_AllPartyClientsReceive(t *testing.T) {
	_, w1 := registerRecorderClient(t, "PARTYC")
	_, w2 := registerRecorderClient(t, "PARTYC")

	event, _ := json.Marshal(map[string]string{"type": EventRestaurantsUpdated})
	BroadcastSSEUpdate("PARTYC", event)

	assert.Contains(t, w1.Body.String(), "data: ")
	assert.Contains(t, w2.Body.String(), `"type":"restaurants_updated"`)
	assert.Equal(t, w1.Body.String(), w2.Body.String())
}

func TestSSEClient_ConcurrentWritesStayFramed(t *testing.T) {
	client, w := registerRecorderClient(t, "PARTYE")

	event, err := json.Marshal(map[string]string{"type": EventVibeAdded})
	assert.NoError(t, err)

	// Heartbeats and event fanout write from different goroutines; every
	// frame must still come out whole.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, sendSSEEvent(client, json.RawMessage(event)))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, client.writeFrame(": ping\n\n"))
		}()
	}
	wg.Wait()

	frames := strings.Split(strings.TrimSuffix(w.Body.String(), "\n\n"), "\n\n")
	assert.Len(t, frames, 40)
	for _, frame := range frames {
		if frame == ": ping" {
			continue
		}
		assert.Equal(t, `data: {"type":"vibe_added"}`, frame)
	}
}

func TestUnregisterSSEClient_RemovesEmptyPartySet(t *testing.T) {
	client, _ := registerRecorderClient(t, "PARTYD")
	unregisterSSEClient(client)

	sseClientsMutex <- true
	_, stillThere := sseClients["PARTYD"]
	<-sseClientsMutex
	assert.False(t, stillThere)
}
