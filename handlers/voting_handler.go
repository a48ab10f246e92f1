package handlers

import (
	"errors"
	"log"
	"net/http"
	"sort"

	"partypick-backend/database"
	"partypick-backend/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// 每轮最多采纳的AI推荐数量
const maxAIPicks = 5

// candidateSnapshot returns a party's voting candidates in insertion order.
func candidateSnapshot(partyCode string) ([]models.VotingCandidate, error) {
	var candidates []models.VotingCandidate
	err := database.DB.Where("party_code = ?", partyCode).Order("position asc").Find(&candidates).Error
	return candidates, err
}

// GetVotingCandidates lists the party's voting candidates.
func GetVotingCandidates(c *gin.Context) {
	party, ok := loadParty(c)
	if !ok {
		return
	}

	candidates, err := candidateSnapshot(party.Code)
	if err != nil {
		log.Printf("查询投票候选失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get candidates"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"candidates": candidates})
}

// SelectVotingCandidates builds the voting shortlist from the group's vibes.
// Owner only. The recommender's picks are matched back to the candidate pool
// by name+address; when the recommender is unavailable the top-rated pool
// entries are used instead. Existing manual candidates always survive the
// merge.
func SelectVotingCandidates(c *gin.Context) {
	party, ok := loadParty(c)
	if !ok {
		return
	}

	if !isPartyOwner(c, party) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}

	var vibes []models.Vibe
	if err := database.DB.Where("party_code = ?", party.Code).Order("created_at asc").Find(&vibes).Error; err != nil {
		log.Printf("查询氛围列表失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to select candidates"})
		return
	}

	pool, err := poolSnapshot(database.DB, party.Code)
	if err != nil {
		log.Printf("查询候选池失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to select candidates"})
		return
	}

	selected := aiShortlist(c, party, vibes, pool)

	existing, err := candidateSnapshot(party.Code)
	if err != nil {
		log.Printf("查询投票候选失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to select candidates"})
		return
	}

	// 合并：已有候选优先，AI推荐按键去重后追加
	seen := make(map[string]bool, len(existing))
	maxPos := 0
	for _, cand := range existing {
		seen[cand.DedupKey] = true
		if cand.Position > maxPos {
			maxPos = cand.Position
		}
	}

	for _, cand := range selected {
		if seen[cand.DedupKey] {
			continue
		}
		maxPos++
		cand.Position = maxPos
		if err := database.DB.Create(&cand).Error; err != nil {
			log.Printf("写入投票候选失败 (key=%s): %v", cand.DedupKey, err)
			continue
		}
		seen[cand.DedupKey] = true
	}

	// 标记投票已开始（幂等）
	if err := database.DB.Model(&models.Party{}).Where("code = ?", party.Code).
		UpdateColumn("voting_started", true).Error; err != nil {
		log.Printf("标记投票开始失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to select candidates"})
		return
	}

	candidates, err := candidateSnapshot(party.Code)
	if err != nil {
		log.Printf("查询投票候选失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to select candidates"})
		return
	}

	PublishPartyEvent(party.Code, gin.H{
		"type":       EventVotingCandidatesUpdated,
		"candidates": candidates,
	})

	c.JSON(http.StatusOK, gin.H{"success": true, "candidates": candidates})
}

// aiShortlist produces up to maxAIPicks candidates for the round. Recommender
// picks are reused from the pool when the name+address key matches, otherwise
// a minimal entry is synthesized. On recommender failure the fallback is the
// top-rated pool entries, ties kept in pool order.
func aiShortlist(c *gin.Context, party *models.Party, vibes []models.Vibe, pool []models.Restaurant) []models.VotingCandidate {
	poolByKey := make(map[string]models.Restaurant, len(pool))
	for _, r := range pool {
		if _, ok := poolByKey[r.DedupKey]; !ok {
			poolByKey[r.DedupKey] = r
		}
	}

	if recommenderClient != nil {
		recs, err := recommenderClient.Recommend(c.Request.Context(), vibes, party.Location)
		if err == nil {
			var selected []models.VotingCandidate
			for _, rec := range recs {
				if rec.Name == "" {
					continue
				}
				key := models.DedupKey(rec.Name, rec.Address)
				var cand models.VotingCandidate
				if match, ok := poolByKey[key]; ok {
					cand = candidateFromRestaurant(match)
				} else {
					cuisine := rec.Cuisine
					if cuisine == "" {
						cuisine = "Restaurant"
					}
					priceRange := rec.PriceRange
					if priceRange == "" {
						priceRange = "$$"
					}
					cand = models.VotingCandidate{
						ID:         rec.Name + "-" + rec.Address,
						PartyCode:  party.Code,
						Name:       rec.Name,
						Cuisine:    cuisine,
						PriceRange: priceRange,
						Rating:     rec.Rating,
						Address:    rec.Address,
						DedupKey:   key,
					}
				}
				cand.AddedBy = "AI"
				cand.Source = "ai"
				selected = append(selected, cand)
				if len(selected) >= maxAIPicks {
					break
				}
			}
			return selected
		}
		log.Printf("推荐服务调用失败，使用候选池评分兜底: %v", err)
	}

	// 兜底：按评分取池内前几名，评分相同保持池内顺序
	ranked := make([]models.Restaurant, len(pool))
	copy(ranked, pool)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Rating > ranked[j].Rating
	})

	var selected []models.VotingCandidate
	for _, r := range ranked {
		cand := candidateFromRestaurant(r)
		cand.AddedBy = "AI"
		cand.Source = "ai"
		selected = append(selected, cand)
		if len(selected) >= maxAIPicks {
			break
		}
	}
	return selected
}

// candidateFromRestaurant projects a pool entry into a voting candidate.
func candidateFromRestaurant(r models.Restaurant) models.VotingCandidate {
	return models.VotingCandidate{
		ID:         r.ID,
		PartyCode:  r.PartyCode,
		Name:       r.Name,
		Cuisine:    r.Cuisine,
		PriceRange: r.PriceRange,
		Rating:     r.Rating,
		Distance:   r.Distance,
		Address:    r.Address,
		Image:      r.Image,
		DedupKey:   r.DedupKey,
	}
}

// AddVotingCandidateRequest is the payload for a manual candidate.
type AddVotingCandidateRequest struct {
	Restaurant *models.Restaurant `json:"restaurant" binding:"required"`
	AddedBy    string             `json:"addedBy"`
}

// AddVotingCandidate adds a manually picked restaurant to the round.
// Adding a candidate whose name+address key already exists is a no-op.
func AddVotingCandidate(c *gin.Context) {
	party, ok := loadParty(c)
	if !ok {
		return
	}

	var req AddVotingCandidateRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Restaurant == nil || req.Restaurant.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Restaurant is required"})
		return
	}

	r := req.Restaurant
	addedBy := req.AddedBy
	if addedBy == "" {
		addedBy = "Unknown"
	}
	cuisine := r.Cuisine
	if cuisine == "" {
		cuisine = "Restaurant"
	}
	priceRange := r.PriceRange
	if priceRange == "" {
		priceRange = "$$"
	}

	key := models.DedupKey(r.Name, r.Address)

	var count int64
	if err := database.DB.Model(&models.VotingCandidate{}).
		Where("party_code = ? AND dedup_key = ?", party.Code, key).Count(&count).Error; err != nil {
		log.Printf("查询投票候选失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add candidate"})
		return
	}

	if count == 0 {
		var maxPos int
		database.DB.Model(&models.VotingCandidate{}).Where("party_code = ?", party.Code).
			Select("COALESCE(MAX(position), 0)").Scan(&maxPos)

		id := r.ID
		if id == "" {
			id = r.Name + "-" + r.Address
		}
		cand := models.VotingCandidate{
			ID:         id,
			PartyCode:  party.Code,
			Name:       r.Name,
			Cuisine:    cuisine,
			PriceRange: priceRange,
			Rating:     r.Rating,
			Distance:   r.Distance,
			Address:    r.Address,
			Image:      r.Image,
			AddedBy:    addedBy,
			Source:     "manual",
			DedupKey:   key,
			Position:   maxPos + 1,
		}
		if err := database.DB.Create(&cand).Error; err != nil {
			log.Printf("写入投票候选失败: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add candidate"})
			return
		}
	}

	candidates, err := candidateSnapshot(party.Code)
	if err != nil {
		log.Printf("查询投票候选失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add candidate"})
		return
	}

	PublishPartyEvent(party.Code, gin.H{
		"type":       EventVotingCandidatesUpdated,
		"candidates": candidates,
	})

	c.JSON(http.StatusOK, gin.H{"success": true, "candidates": candidates})
}

// RemoveVotingCandidateRequest identifies the candidate to drop.
type RemoveVotingCandidateRequest struct {
	RestaurantID string `json:"restaurantId" binding:"required"`
}

// RemoveVotingCandidate drops a candidate from the round.
func RemoveVotingCandidate(c *gin.Context) {
	party, ok := loadParty(c)
	if !ok {
		return
	}

	var req RemoveVotingCandidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Restaurant ID is required"})
		return
	}

	if err := database.DB.Where("party_code = ? AND id = ?", party.Code, req.RestaurantID).
		Delete(&models.VotingCandidate{}).Error; err != nil {
		log.Printf("删除投票候选失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove candidate"})
		return
	}

	candidates, err := candidateSnapshot(party.Code)
	if err != nil {
		log.Printf("查询投票候选失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove candidate"})
		return
	}

	PublishPartyEvent(party.Code, gin.H{
		"type":       EventVotingCandidatesUpdated,
		"candidates": candidates,
	})

	c.JSON(http.StatusOK, gin.H{"success": true, "candidates": candidates})
}

// ClearVotingCandidates drops every candidate of the round.
func ClearVotingCandidates(c *gin.Context) {
	party, ok := loadParty(c)
	if !ok {
		return
	}

	if err := database.DB.Where("party_code = ?", party.Code).
		Delete(&models.VotingCandidate{}).Error; err != nil {
		log.Printf("清空投票候选失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear candidates"})
		return
	}

	PublishPartyEvent(party.Code, gin.H{
		"type":       EventVotingCandidatesUpdated,
		"candidates": []models.VotingCandidate{},
	})

	c.JSON(http.StatusOK, gin.H{"success": true, "candidates": []models.VotingCandidate{}})
}

// VoteCandidateRequest identifies the voter for the single-tap vote.
type VoteCandidateRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// 并发切换投票时比较交换的最大重试次数
const maxVoteToggleRetries = 3

// VoteCandidate toggles a participant's single-tap vote on a candidate.
// A repeated vote from the same participant withdraws it, so the endpoint is
// an idempotent toggle rather than an unbounded counter. The write is a
// compare-and-swap on the stored voter list: a concurrent toggle that lands
// first makes the update match zero rows, and the toggle is recomputed from
// the fresh state. Kept for older clients; ballot submission is the primary
// voting path.
func VoteCandidate(c *gin.Context) {
	party, ok := loadParty(c)
	if !ok {
		return
	}
	id := c.Param("id")

	var req VoteCandidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}

	var votes int64
	var votedBy models.StringList

	swapped := false
	for attempt := 0; attempt < maxVoteToggleRetries && !swapped; attempt++ {
		var cand models.VotingCandidate
		if err := database.DB.Where("party_code = ? AND id = ?", party.Code, id).First(&cand).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Candidate not found"})
			} else {
				log.Printf("查询投票候选失败: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to vote"})
			}
			return
		}

		prev := cand.VotedBy
		if prev.Contains(req.UserID) {
			// 撤回投票
			next := make(models.StringList, 0, len(prev)-1)
			for _, v := range prev {
				if v != req.UserID {
					next = append(next, v)
				}
			}
			cand.VotedBy = next
			if cand.Votes > 0 {
				cand.Votes--
			}
		} else {
			cand.VotedBy = append(cand.VotedBy, req.UserID)
			cand.Votes++
		}

		update := database.DB.Model(&models.VotingCandidate{}).
			Where("party_code = ? AND id = ? AND voted_by = ?", party.Code, id, prev).
			Updates(map[string]interface{}{"votes": cand.Votes, "voted_by": cand.VotedBy})
		if update.Error != nil {
			log.Printf("更新候选票数失败: %v", update.Error)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to vote"})
			return
		}

		if update.RowsAffected > 0 {
			votes = cand.Votes
			votedBy = cand.VotedBy
			swapped = true
		}
		// 没换到就说明有并发切换先落库，重新读取再算
	}

	if !swapped {
		log.Printf("候选票数比较交换重试耗尽 [派对: %s, 候选: %s]", party.Code, id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to vote"})
		return
	}

	PublishPartyEvent(party.Code, gin.H{
		"type":         EventVotingVoteUpdated,
		"restaurantId": id,
		"votes":        votes,
		"votedBy":      votedBy,
	})

	c.JSON(http.StatusOK, gin.H{"success": true, "votes": votes, "votedBy": votedBy})
}
