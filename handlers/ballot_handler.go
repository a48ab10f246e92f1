package handlers

import (
	"log"
	"net/http"
	"sort"
	"time"

	"partypick-backend/cache"
	"partypick-backend/database"
	"partypick-backend/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SubmitBallotRequest is a participant's complete like-set for the round.
// LikedIDs is a pointer so "field missing" can be told apart from an empty
// ballot, which is valid.
type SubmitBallotRequest struct {
	UserID   string    `json:"userId" binding:"required"`
	LikedIDs *[]string `json:"likedIds" binding:"required"`
}

// SubmitBallot records a participant's ballot and advances the round.
// Resubmission while the round is open overwrites the previous ballot; once
// the round is closed further ballots are rejected. The submission that
// brings the finished count up to the participant count closes the round
// exactly once and freezes the combined scores and winner.
func SubmitBallot(c *gin.Context) {
	party, ok := loadParty(c)
	if !ok {
		return
	}

	var req SubmitBallotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId and likedIds are required"})
		return
	}

	if party.VotingAllFinished {
		c.JSON(http.StatusConflict, gin.H{"error": "Voting round is already closed"})
		return
	}

	// 同一张选票内去重，保证每家餐厅每人最多+1
	likedIDs := dedupeIDs(*req.LikedIDs)

	ballot := models.Ballot{
		PartyCode:  party.Code,
		UserID:     req.UserID,
		LikedIDs:   likedIDs,
		Finished:   true,
		FinishedAt: time.Now(),
	}

	// 复合主键下Save不可靠，用事务内先删后建实现覆盖写
	err := database.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("party_code = ? AND user_id = ?", party.Code, req.UserID).
			Delete(&models.Ballot{}).Error; err != nil {
			return err
		}
		return tx.Create(&ballot).Error
	})
	if err != nil {
		log.Printf("写入选票失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to submit ballot"})
		return
	}

	finishedCount, participantsCount, err := roundProgress(party.Code)
	if err != nil {
		log.Printf("统计轮次进度失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to submit ballot"})
		return
	}

	// 进度始终落库，等待中的客户端靠它展示状态
	if err := database.DB.Model(&models.Party{}).Where("code = ?", party.Code).
		UpdateColumns(map[string]interface{}{
			"voting_finished_count":     finishedCount,
			"voting_participants_count": participantsCount,
		}).Error; err != nil {
		log.Printf("写入轮次进度失败: %v", err)
	}

	allFinished := false
	var topResult *models.TopResult

	if participantsCount > 0 && finishedCount >= participantsCount {
		// 关闭写入失败必须报给调用方，否则客户端会在没有结果的情况下离开等待状态
		topResult, err = closeRound(party.Code)
		if err != nil {
			log.Printf("关闭投票轮次失败: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to submit ballot"})
			return
		}
		allFinished = true
	}

	progressEvent := gin.H{
		"type":              EventVotingVoteUpdated,
		"finishedCount":     finishedCount,
		"participantsCount": participantsCount,
		"allFinished":       allFinished,
	}
	if topResult != nil {
		progressEvent["topResult"] = topResult
	}
	PublishPartyEvent(party.Code, progressEvent)

	resp := gin.H{
		"success":           true,
		"finishedCount":     finishedCount,
		"participantsCount": participantsCount,
		"allFinished":       allFinished,
	}
	if topResult != nil {
		resp["topResult"] = topResult
	}
	c.JSON(http.StatusOK, resp)
}

// dedupeIDs removes duplicates preserving first-seen order.
func dedupeIDs(ids []string) models.StringList {
	seen := make(map[string]bool, len(ids))
	out := make(models.StringList, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// roundProgress derives the round's finished and participant counts.
// Participants are inferred: every distinct vibe contributor counts, and the
// ballot count is a floor so voters who never posted a vibe still count.
func roundProgress(partyCode string) (finished int, participants int, err error) {
	var vibes []models.Vibe
	if err = database.DB.Where("party_code = ?", partyCode).Find(&vibes).Error; err != nil {
		return 0, 0, err
	}

	identities := make(map[string]bool)
	for _, v := range vibes {
		key := v.UserID
		if key == "" {
			key = v.User
		}
		if key != "" {
			identities[key] = true
		}
	}

	var ballotCount int64
	if err = database.DB.Model(&models.Ballot{}).Where("party_code = ?", partyCode).
		Count(&ballotCount).Error; err != nil {
		return 0, 0, err
	}

	var finishedCount int64
	if err = database.DB.Model(&models.Ballot{}).
		Where("party_code = ? AND finished = ?", partyCode, true).
		Count(&finishedCount).Error; err != nil {
		return 0, 0, err
	}

	participants = len(identities)
	if int(ballotCount) > participants {
		participants = int(ballotCount)
	}
	return int(finishedCount), participants, nil
}

// closeRound computes the final scores and performs the one-shot close. The
// conditional update is the atomic gate: only the request that flips
// voting_all_finished from false to true writes the result, every concurrent
// loser reads back what the winner stored. The distributed lock just avoids
// redundant score computation across instances when Redis is up.
func closeRound(partyCode string) (*models.TopResult, error) {
	var top *models.TopResult

	doClose := func() error {
		scores, result, err := computeRoundResult(partyCode)
		if err != nil {
			log.Printf("计算轮次结果失败: %v", err)
			return err
		}

		update := database.DB.Model(&models.Party{}).
			Where("code = ? AND voting_all_finished = ?", partyCode, false).
			UpdateColumns(map[string]interface{}{
				"voting_all_finished":    true,
				"voting_combined_scores": scores,
				"voting_top_result":      result,
			})
		if update.Error != nil {
			log.Printf("写入轮次结果失败: %v", update.Error)
			return update.Error
		}

		if update.RowsAffected == 0 {
			// 另一个提交已经关闭了本轮，读取已定格的结果
			var party models.Party
			if err := database.DB.Where("code = ?", partyCode).First(&party).Error; err != nil {
				return err
			}
			top = party.VotingTopResult
			return nil
		}

		top = result
		return nil
	}

	if cache.IsAvailable() {
		if lockService := cache.GetLockService(); lockService != nil {
			err := lockService.WithLock(cache.PartyLockName(partyCode), 5*time.Second, doClose)
			if err == nil {
				return top, nil
			}
			// 锁路径失败后直接重试一次，条件更新保证幂等
			log.Printf("分布式锁内关闭轮次失败，直接执行: %v", err)
		}
	}

	return top, doClose()
}

// computeRoundResult aggregates all finished ballots into combined scores and
// picks the winner. Liked ids that no longer match a candidate are dropped;
// ties break by candidate list order.
func computeRoundResult(partyCode string) (models.ScoreMap, *models.TopResult, error) {
	var ballots []models.Ballot
	if err := database.DB.Where("party_code = ? AND finished = ?", partyCode, true).
		Find(&ballots).Error; err != nil {
		return nil, nil, err
	}

	candidates, err := candidateSnapshot(partyCode)
	if err != nil {
		return nil, nil, err
	}

	candidateByID := make(map[string]models.VotingCandidate, len(candidates))
	orderByID := make(map[string]int, len(candidates))
	for i, cand := range candidates {
		candidateByID[cand.ID] = cand
		orderByID[cand.ID] = i
	}

	scores := make(models.ScoreMap)
	for _, b := range ballots {
		for _, id := range dedupeIDs(b.LikedIDs) {
			if _, ok := candidateByID[id]; !ok {
				continue
			}
			scores[id]++
		}
	}

	if len(scores) == 0 {
		return scores, nil, nil
	}

	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return orderByID[ids[i]] < orderByID[ids[j]]
	})

	winner := candidateByID[ids[0]]
	top := &models.TopResult{
		ID:         winner.ID,
		Name:       winner.Name,
		Cuisine:    winner.Cuisine,
		PriceRange: winner.PriceRange,
		Rating:     winner.Rating,
		Address:    winner.Address,
		Image:      winner.Image,
		AddedBy:    winner.AddedBy,
		FinalScore: scores[ids[0]],
	}
	return scores, top, nil
}
