package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"partypick-backend/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

// poolResponse mirrors the AddRestaurants / GetRestaurants response body.
type poolResponse struct {
	Success     bool                `json:"success"`
	Restaurants []models.Restaurant `json:"restaurants"`
}

func TestAddRestaurants(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	ClearTables(db)

	party := createTestParty(t, router, "owner")

	w := doJSON(router, "POST", "/api/parties/"+party.Code+"/restaurants", gin.H{
		"restaurants": []gin.H{
			{"id": "r1", "name": "Chili House", "address": "1 Spice St", "cuisine": "Sichuan", "rating": 4.4},
			{"name": "Pasta Place", "address": "2 Noodle Ave", "rating": 4.1},
		},
	}, "")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp poolResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Len(t, resp.Restaurants, 2)
	assert.Equal(t, "Chili House", resp.Restaurants[0].Name)
	// Entries without an explicit id get a synthesized one
	assert.Equal(t, "Pasta Place-2 Noodle Ave", resp.Restaurants[1].ID)
}

func TestAddRestaurants_InvalidInput(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	ClearTables(db)

	party := createTestParty(t, router, "owner")

	w := doJSON(router, "POST", "/api/parties/"+party.Code+"/restaurants", gin.H{}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var responseBody map[string]string
	err := json.Unmarshal(w.Body.Bytes(), &responseBody)
	assert.NoError(t, err)
	assert.Equal(t, "Restaurants are required", responseBody["error"])
}

func TestAddRestaurants_DedupIsIdempotent(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	ClearTables(db)

	party := createTestParty(t, router, "owner")

	batch := gin.H{
		"restaurants": []gin.H{
			{"id": "r1", "name": "Chili House", "address": "1 Spice St", "cuisine": "Sichuan", "rating": 4.4},
		},
	}

	w := doJSON(router, "POST", "/api/parties/"+party.Code+"/restaurants", batch, "")
	assert.Equal(t, http.StatusOK, w.Code)

	// Same key with different attributes and casing: dropped, first write wins
	w = doJSON(router, "POST", "/api/parties/"+party.Code+"/restaurants", gin.H{
		"restaurants": []gin.H{
			{"id": "other-id", "name": "CHILI HOUSE", "address": "1 SPICE ST", "cuisine": "Tex-Mex", "rating": 1.0},
		},
	}, "")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp poolResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err)
	assert.Len(t, resp.Restaurants, 1)
	assert.Equal(t, "r1", resp.Restaurants[0].ID)
	assert.Equal(t, "Sichuan", resp.Restaurants[0].Cuisine)
	assert.Equal(t, 4.4, resp.Restaurants[0].Rating)
}

func TestGetRestaurants_InsertionOrder(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	ClearTables(db)

	party := createTestParty(t, router, "owner")

	names := []string{"Alpha", "Bravo", "Charlie"}
	for _, name := range names {
		w := doJSON(router, "POST", "/api/parties/"+party.Code+"/restaurants", gin.H{
			"restaurants": []gin.H{{"name": name, "address": name + " St"}},
		}, "")
		assert.Equal(t, http.StatusOK, w.Code)
	}

	w := doJSON(router, "GET", "/api/parties/"+party.Code+"/restaurants", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp poolResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err)
	assert.Len(t, resp.Restaurants, 3)
	for i, name := range names {
		assert.Equal(t, name, resp.Restaurants[i].Name)
	}
}

func TestVoteRestaurant(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	ClearTables(db)

	party := createTestParty(t, router, "owner")

	w := doJSON(router, "POST", "/api/parties/"+party.Code+"/restaurants", gin.H{
		"restaurants": []gin.H{{"id": "r1", "name": "Chili House", "address": "1 Spice St"}},
	}, "")
	assert.Equal(t, http.StatusOK, w.Code)

	for want := int64(1); want <= 2; want++ {
		w = doJSON(router, "POST", "/api/parties/"+party.Code+"/restaurants/r1/vote", nil, "")
		assert.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Success bool  `json:"success"`
			Votes   int64 `json:"votes"`
		}
		err := json.Unmarshal(w.Body.Bytes(), &resp)
		assert.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Equal(t, want, resp.Votes)
	}
}

func TestVoteRestaurant_NotFound(t *testing.T) {
	router, db := SetupTestEnvironment(t)
	ClearTables(db)

	party := createTestParty(t, router, "owner")

	w := doJSON(router, "POST", "/api/parties/"+party.Code+"/restaurants/ghost/vote", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	var responseBody map[string]string
	err := json.Unmarshal(w.Body.Bytes(), &responseBody)
	assert.NoError(t, err)
	assert.Equal(t, "Restaurant not found", responseBody["error"])
}
