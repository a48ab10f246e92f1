package handlers

import (
	"errors"
	"log"
	"math/rand"
	"net/http"

	"partypick-backend/auth"
	"partypick-backend/database"
	"partypick-backend/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreatePartyRequest is the payload for creating a party.
type CreatePartyRequest struct {
	Name     string `json:"name" binding:"required"`
	Location string `json:"location" binding:"required"`
}

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// generatePartyCode returns a random 6-character share code.
func generatePartyCode() string {
	b := make([]byte, 6)
	for i := range b {
		b[i] = codeAlphabet[rand.Intn(len(codeAlphabet))]
	}
	return string(b)
}

// CreateParty creates a new party with a shareable code. The creator's
// identity is captured for later owner checks: the verified account id when
// a valid token is presented, otherwise the caller's session id.
func CreateParty(c *gin.Context) {
	var req CreatePartyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Name and location are required"})
		return
	}

	party := models.Party{
		ID:             uuid.New().String(),
		Code:           generatePartyCode(),
		Name:           req.Name,
		Location:       req.Location,
		OwnerUserID:    auth.VerifiedUserID(c),
		OwnerSessionID: auth.ParticipantID(c),
	}

	if err := database.DB.Create(&party).Error; err != nil {
		log.Printf("创建派对失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create party"})
		return
	}

	log.Printf("派对已创建: code=%s, name=%s", party.Code, party.Name)
	c.JSON(http.StatusCreated, gin.H{"party": party})
}

// loadParty fetches a party by its share code and writes the error response
// itself when the party cannot be loaded.
func loadParty(c *gin.Context) (*models.Party, bool) {
	code := c.Param("code")

	var party models.Party
	if err := database.DB.Where("code = ?", code).First(&party).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Party not found"})
		} else {
			log.Printf("查询派对失败: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load party"})
		}
		return nil, false
	}
	return &party, true
}

// isPartyOwner reports whether the request comes from the party's creator:
// either the verified account matches, or the session recorded at creation.
func isPartyOwner(c *gin.Context, party *models.Party) bool {
	if uid := auth.VerifiedUserID(c); uid != "" && party.OwnerUserID != "" && uid == party.OwnerUserID {
		return true
	}
	sid := auth.ParticipantID(c)
	return sid != "" && party.OwnerSessionID != "" && sid == party.OwnerSessionID
}

// GetParty returns the full party snapshot: vibes, candidate pool, voting
// candidates and round progress.
func GetParty(c *gin.Context) {
	party, ok := loadParty(c)
	if !ok {
		return
	}

	var vibes []models.Vibe
	if err := database.DB.Where("party_code = ?", party.Code).Order("created_at asc").Find(&vibes).Error; err != nil {
		log.Printf("查询氛围列表失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load party"})
		return
	}

	var restaurants []models.Restaurant
	if err := database.DB.Where("party_code = ?", party.Code).Order("position asc").Find(&restaurants).Error; err != nil {
		log.Printf("查询候选池失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load party"})
		return
	}

	var candidates []models.VotingCandidate
	if err := database.DB.Where("party_code = ?", party.Code).Order("position asc").Find(&candidates).Error; err != nil {
		log.Printf("查询投票候选失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load party"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"party":            party,
		"vibes":            vibes,
		"restaurants":      restaurants,
		"votingCandidates": candidates,
	})
}
