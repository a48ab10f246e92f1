package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"partypick-backend/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

// doJSON performs a JSON request against the test router. sessionID is sent
// as the explicit session header when non-empty.
func doJSON(router *gin.Engine, method, path string, body interface{}, sessionID string) *httptest.ResponseRecorder {
	var buf *bytes.Buffer
	if body != nil {
		jsonData, _ := json.Marshal(body)
		buf = bytes.NewBuffer(jsonData)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set("X-Session-Id", sessionID)
	}
	router.ServeHTTP(w, req)
	return w
}

// createTestParty creates a party owned by the given session and returns it.
func createTestParty(t *testing.T, router *gin.Engine, ownerSession string) models.Party {
	w := doJSON(router, "POST", "/api/parties", gin.H{
		"name":     "Friday Dinner",
		"location": "San Francisco, CA",
	}, ownerSession)
	assert.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Party models.Party `json:"party"`
	}
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err)
	return resp.Party
}

func TestCreateParty(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	ClearTables(db)

	w := doJSON(router, "POST", "/api/parties", gin.H{
		"name":     "Taco Night",
		"location": "Austin, TX",
	}, "owner-session")

	assert.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Party models.Party `json:"party"`
	}
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err)
	assert.Equal(t, "Taco Night", resp.Party.Name)
	assert.Equal(t, "Austin, TX", resp.Party.Location)
	assert.Len(t, resp.Party.Code, 6)
	assert.NotEmpty(t, resp.Party.ID)
	assert.False(t, resp.Party.VotingStarted)
	assert.False(t, resp.Party.VotingAllFinished)

	// Owner session is recorded but never serialized
	var stored models.Party
	err = db.Where("code = ?", resp.Party.Code).First(&stored).Error
	assert.NoError(t, err)
	assert.Equal(t, "owner-session", stored.OwnerSessionID)

	body := w.Body.String()
	assert.NotContains(t, body, "owner-session")
}

func TestCreateParty_InvalidInput(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	ClearTables(db)

	tests := []struct {
		name string
		body gin.H
	}{
		{name: "Missing name", body: gin.H{"location": "NYC"}},
		{name: "Missing location", body: gin.H{"name": "Dinner"}},
		{name: "Empty body", body: gin.H{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(router, "POST", "/api/parties", tc.body, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var responseBody map[string]string
			err := json.Unmarshal(w.Body.Bytes(), &responseBody)
			assert.NoError(t, err)
			assert.Equal(t, "Name and location are required", responseBody["error"])
		})
	}
}

func TestGetParty_NotFound(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	ClearTables(db)

	w := doJSON(router, "GET", "/api/parties/NOPE42", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	var responseBody map[string]string
	err := json.Unmarshal(w.Body.Bytes(), &responseBody)
	assert.NoError(t, err)
	assert.Equal(t, "Party not found", responseBody["error"])
}

func TestGetParty_Snapshot(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	ClearTables(db)

	party := createTestParty(t, router, "owner")

	// Add a vibe and a pool entry, then fetch the snapshot
	w := doJSON(router, "POST", "/api/parties/"+party.Code+"/vibes", gin.H{
		"user":    "Alice",
		"message": "something spicy",
	}, "alice-session")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, "POST", "/api/parties/"+party.Code+"/restaurants", gin.H{
		"restaurants": []gin.H{
			{"id": "r1", "name": "Chili House", "address": "1 Spice St", "rating": 4.4},
		},
	}, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, "GET", "/api/parties/"+party.Code, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	var snapshot struct {
		Party            models.Party             `json:"party"`
		Vibes            []models.Vibe            `json:"vibes"`
		Restaurants      []models.Restaurant      `json:"restaurants"`
		VotingCandidates []models.VotingCandidate `json:"votingCandidates"`
	}
	err := json.Unmarshal(w.Body.Bytes(), &snapshot)
	assert.NoError(t, err)
	assert.Equal(t, party.Code, snapshot.Party.Code)
	assert.Len(t, snapshot.Vibes, 1)
	assert.Equal(t, "Alice", snapshot.Vibes[0].User)
	assert.Len(t, snapshot.Restaurants, 1)
	assert.Equal(t, "Chili House", snapshot.Restaurants[0].Name)
	assert.Empty(t, snapshot.VotingCandidates)
}
