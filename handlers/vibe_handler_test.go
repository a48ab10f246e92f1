package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"partypick-backend/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

// stubPlaces is a canned places provider for tests.
type stubPlaces struct {
	results []models.Restaurant
	err     error
	queries []string
}

func (s *stubPlaces) SearchText(_ context.Context, query string, _ int) ([]models.Restaurant, error) {
	s.queries = append(s.queries, query)
	return s.results, s.err
}

func TestAddVibe(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	ClearTables(db)

	party := createTestParty(t, router, "owner")

	w := doJSON(router, "POST", "/api/parties/"+party.Code+"/vibes", gin.H{
		"user":    "Alice",
		"message": "something spicy",
		"budget":  25.0,
	}, "alice-session")
	assert.Equal(t, http.StatusOK, w.Code)

	var vibe models.Vibe
	err := json.Unmarshal(w.Body.Bytes(), &vibe)
	assert.NoError(t, err)
	assert.NotEmpty(t, vibe.ID)
	assert.Equal(t, "Alice", vibe.User)
	assert.Equal(t, "alice-session", vibe.UserID)
	assert.Equal(t, "something spicy", vibe.Message)
	assert.NotNil(t, vibe.Budget)
	assert.Equal(t, 25.0, *vibe.Budget)
}

func TestAddVibe_InvalidInput(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	ClearTables(db)

	party := createTestParty(t, router, "owner")

	tests := []struct {
		name string
		body gin.H
	}{
		{name: "Missing user", body: gin.H{"message": "anything"}},
		{name: "Missing message", body: gin.H{"user": "Alice"}},
		{name: "Empty body", body: gin.H{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(router, "POST", "/api/parties/"+party.Code+"/vibes", tc.body, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var responseBody map[string]string
			err := json.Unmarshal(w.Body.Bytes(), &responseBody)
			assert.NoError(t, err)
			assert.Equal(t, "User and message are required", responseBody["error"])
		})
	}
}

func TestAddVibe_EnrichesPool(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	ClearTables(db)

	places := &stubPlaces{results: []models.Restaurant{
		{ID: "p1", Name: "Taqueria Luna", Address: "10 Mission St", Rating: 4.6},
		{ID: "p2", Name: "El Farolito", Address: "24 Valencia St", Rating: 4.8},
	}}
	InitProviders(places, nil)

	party := createTestParty(t, router, "owner")

	w := doJSON(router, "POST", "/api/parties/"+party.Code+"/vibes", gin.H{
		"user":    "Alice",
		"message": "tacos",
	}, "alice-session")
	assert.Equal(t, http.StatusOK, w.Code)

	// The search query combines the vibe text with the party location
	assert.Len(t, places.queries, 1)
	assert.Contains(t, places.queries[0], "tacos")
	assert.Contains(t, places.queries[0], party.Location)

	var pool []models.Restaurant
	err := db.Where("party_code = ?", party.Code).Order("position asc").Find(&pool).Error
	assert.NoError(t, err)
	assert.Len(t, pool, 2)
	assert.Equal(t, "Taqueria Luna", pool[0].Name)
}

func TestAddVibe_EnrichmentFailureDoesNotFailSubmission(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	ClearTables(db)

	InitProviders(&stubPlaces{err: context.DeadlineExceeded}, nil)

	party := createTestParty(t, router, "owner")

	w := doJSON(router, "POST", "/api/parties/"+party.Code+"/vibes", gin.H{
		"user":    "Alice",
		"message": "tacos",
	}, "alice-session")
	assert.Equal(t, http.StatusOK, w.Code)

	var count int64
	assert.NoError(t, db.Model(&models.Vibe{}).Where("party_code = ?", party.Code).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGetVibes_SubmissionOrder(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	ClearTables(db)

	party := createTestParty(t, router, "owner")

	messages := []string{"first", "second", "third"}
	for _, msg := range messages {
		w := doJSON(router, "POST", "/api/parties/"+party.Code+"/vibes", gin.H{
			"user":    "Alice",
			"message": msg,
		}, "alice-session")
		assert.Equal(t, http.StatusOK, w.Code)
	}

	w := doJSON(router, "GET", "/api/parties/"+party.Code+"/vibes", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Vibes []models.Vibe `json:"vibes"`
	}
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err)
	assert.Len(t, resp.Vibes, 3)
	for i, msg := range messages {
		assert.Equal(t, msg, resp.Vibes[i].Message)
	}
}
