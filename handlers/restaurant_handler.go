package handlers

import (
	"log"
	"net/http"

	"partypick-backend/database"
	"partypick-backend/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// AddRestaurantsRequest carries a batch of pool entries to merge.
type AddRestaurantsRequest struct {
	Restaurants []models.Restaurant `json:"restaurants" binding:"required"`
}

// mergeIntoPool merges restaurants into a party's candidate pool. The pool is
// a set keyed by lowercase(name)|lowercase(address): entries whose key is
// already present are dropped, first-seen attributes win. Returns the number
// of entries actually added.
func mergeIntoPool(partyCode string, incoming []models.Restaurant) (int, error) {
	var existing []models.Restaurant
	if err := database.DB.Where("party_code = ?", partyCode).Find(&existing).Error; err != nil {
		return 0, err
	}

	seen := make(map[string]bool, len(existing))
	maxPos := 0
	for _, r := range existing {
		seen[r.DedupKey] = true
		if r.Position > maxPos {
			maxPos = r.Position
		}
	}

	added := 0
	for _, r := range incoming {
		if r.Name == "" {
			continue
		}
		key := models.DedupKey(r.Name, r.Address)
		if seen[key] {
			continue
		}

		r.PartyCode = partyCode
		r.DedupKey = key
		if r.ID == "" {
			r.ID = r.Name + "-" + r.Address
		}
		maxPos++
		r.Position = maxPos

		if err := database.DB.Create(&r).Error; err != nil {
			// 并发合并可能撞上唯一索引，按已存在处理
			log.Printf("插入候选池条目失败 (key=%s): %v", key, err)
			continue
		}
		seen[key] = true
		added++
	}

	return added, nil
}

// poolSnapshot returns the party's pool in insertion order.
func poolSnapshot(db *gorm.DB, partyCode string) ([]models.Restaurant, error) {
	var restaurants []models.Restaurant
	err := db.Where("party_code = ?", partyCode).Order("position asc").Find(&restaurants).Error
	return restaurants, err
}

// AddRestaurants merges a batch of restaurants into the party's candidate
// pool and broadcasts the updated pool.
func AddRestaurants(c *gin.Context) {
	party, ok := loadParty(c)
	if !ok {
		return
	}

	var req AddRestaurantsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Restaurants are required"})
		return
	}

	added, err := mergeIntoPool(party.Code, req.Restaurants)
	if err != nil {
		log.Printf("合并候选池失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add restaurants"})
		return
	}

	restaurants, err := poolSnapshot(database.DB, party.Code)
	if err != nil {
		log.Printf("查询候选池失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add restaurants"})
		return
	}

	if added > 0 {
		PublishPartyEvent(party.Code, gin.H{
			"type":        EventRestaurantsUpdated,
			"restaurants": restaurants,
		})
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "restaurants": restaurants})
}

// GetRestaurants returns the party's candidate pool.
func GetRestaurants(c *gin.Context) {
	party, ok := loadParty(c)
	if !ok {
		return
	}

	restaurants, err := poolSnapshot(database.DB, party.Code)
	if err != nil {
		log.Printf("查询候选池失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch restaurants"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"restaurants": restaurants})
}

// VoteRestaurant increments a pool entry's vote counter. Kept for older
// clients; ballot submission is the primary voting path.
func VoteRestaurant(c *gin.Context) {
	party, ok := loadParty(c)
	if !ok {
		return
	}
	id := c.Param("id")

	result := database.DB.Model(&models.Restaurant{}).
		Where("party_code = ? AND id = ?", party.Code, id).
		UpdateColumn("votes", gorm.Expr("votes + 1"))
	if result.Error != nil {
		log.Printf("更新餐厅票数失败: %v", result.Error)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to vote"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Restaurant not found"})
		return
	}

	var restaurant models.Restaurant
	if err := database.DB.Where("party_code = ? AND id = ?", party.Code, id).First(&restaurant).Error; err != nil {
		log.Printf("查询餐厅失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to vote"})
		return
	}

	PublishPartyEvent(party.Code, gin.H{
		"type":         EventVotingVoteUpdated,
		"restaurantId": id,
		"votes":        restaurant.Votes,
	})

	c.JSON(http.StatusOK, gin.H{"success": true, "votes": restaurant.Votes})
}
