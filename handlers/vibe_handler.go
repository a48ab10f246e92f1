package handlers

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"partypick-backend/auth"
	"partypick-backend/database"
	"partypick-backend/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AddVibeRequest is the payload for submitting a dining preference.
type AddVibeRequest struct {
	User    string   `json:"user" binding:"required"`
	Message string   `json:"message" binding:"required"`
	Budget  *float64 `json:"budget"`
}

// 每条氛围最多补充进候选池的搜索结果数
const maxEnrichmentResults = 10

// AddVibe stores a participant's free-text preference and broadcasts it.
// Afterwards the vibe text is used to enrich the candidate pool via the
// places provider; enrichment failure never fails the vibe submission.
func AddVibe(c *gin.Context) {
	party, ok := loadParty(c)
	if !ok {
		return
	}

	var req AddVibeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "User and message are required"})
		return
	}

	vibe := models.Vibe{
		ID:        fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.New().String()[:8]),
		PartyCode: party.Code,
		User:      req.User,
		UserID:    auth.ParticipantID(c),
		Message:   req.Message,
		Budget:    req.Budget,
		CreatedAt: time.Now(),
	}

	if err := database.DB.Create(&vibe).Error; err != nil {
		log.Printf("保存氛围失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add vibe"})
		return
	}

	PublishPartyEvent(party.Code, gin.H{
		"type": EventVibeAdded,
		"vibe": vibe,
	})

	enrichPoolFromVibe(c, party, vibe)

	c.JSON(http.StatusOK, vibe)
}

// enrichPoolFromVibe searches the places provider with the vibe text and
// merges up to maxEnrichmentResults matches into the candidate pool.
// Best-effort: any failure just logs and leaves the pool unchanged.
func enrichPoolFromVibe(c *gin.Context, party *models.Party, vibe models.Vibe) {
	if placesClient == nil {
		return
	}

	query := fmt.Sprintf("%s restaurants in %s", vibe.Message, party.Location)
	results, err := placesClient.SearchText(c.Request.Context(), query, maxEnrichmentResults)
	if err != nil {
		log.Printf("候选池补充搜索失败，跳过: %v", err)
		return
	}
	if len(results) == 0 {
		return
	}

	added, err := mergeIntoPool(party.Code, results)
	if err != nil {
		log.Printf("候选池补充合并失败，跳过: %v", err)
		return
	}
	if added == 0 {
		return
	}

	restaurants, err := poolSnapshot(database.DB, party.Code)
	if err != nil {
		log.Printf("查询候选池失败: %v", err)
		return
	}

	PublishPartyEvent(party.Code, gin.H{
		"type":        EventRestaurantsUpdated,
		"restaurants": restaurants,
	})
}

// GetVibes returns the party's vibes in submission order.
func GetVibes(c *gin.Context) {
	party, ok := loadParty(c)
	if !ok {
		return
	}

	var vibes []models.Vibe
	if err := database.DB.Where("party_code = ?", party.Code).Order("created_at asc").Find(&vibes).Error; err != nil {
		log.Printf("查询氛围列表失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch vibes"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"vibes": vibes})
}
