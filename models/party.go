package models

import (
	"strings"
	"time"
)

// Party represents one group dining session, identified by a short share code.
// The round-state flags and the derived completion record live directly on the
// party row so waiting clients can read progress with a single fetch.
type Party struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Code      string    `gorm:"uniqueIndex;not null" json:"code"`
	Name      string    `gorm:"not null" json:"name"`
	Location  string    `gorm:"not null" json:"location"`
	CreatedAt time.Time `json:"createdAt"`

	// 创建方身份：验证过的账号ID或创建时的会话ID，先写入者为准
	OwnerUserID    string `json:"ownerUserId,omitempty"`
	OwnerSessionID string `json:"-"`

	VotingStarted     bool `gorm:"default:false" json:"votingStarted"`
	VotingAllFinished bool `gorm:"default:false" json:"votingAllFinished"`

	// Round completion record, written once when the round closes.
	VotingFinishedCount     int        `gorm:"default:0" json:"votingFinishedCount"`
	VotingParticipantsCount int        `gorm:"default:0" json:"votingParticipantsCount"`
	VotingCombinedScores    ScoreMap   `gorm:"type:text" json:"votingCombinedScores,omitempty"`
	VotingTopResult         *TopResult `gorm:"type:text" json:"votingTopResult,omitempty"`
}

// Vibe is one participant's free-text dining preference. Immutable once
// created, ordered by creation time ascending.
type Vibe struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	PartyCode string    `gorm:"index;not null" json:"-"`
	User      string    `gorm:"not null" json:"user"`
	UserID    string    `json:"userId,omitempty"` // 匿名提交时为空
	Message   string    `gorm:"type:text;not null" json:"message"`
	Budget    *float64  `json:"budget,omitempty"`
	CreatedAt time.Time `json:"timestamp"`
}

// Restaurant is one entry of a party's candidate pool. The pool is a set
// under DedupKey: inserting an existing key is a no-op and first-seen
// attributes are retained.
type Restaurant struct {
	ID         string  `gorm:"primaryKey" json:"id"`
	PartyCode  string  `gorm:"primaryKey;index:idx_restaurant_party_key,unique" json:"-"`
	Name       string  `gorm:"not null" json:"name"`
	Cuisine    string  `json:"cuisine"`
	PriceRange string  `json:"priceRange"`
	Rating     float64 `json:"rating"`
	Distance   string  `json:"distance"`
	Address    string  `json:"address"`
	Image      string  `json:"image,omitempty"`
	Votes      int64   `gorm:"default:0" json:"votes"`

	DedupKey string `gorm:"index:idx_restaurant_party_key,unique" json:"-"`
	// Position preserves insertion order; it is also the tie-break order
	// for score ranking.
	Position  int       `gorm:"not null" json:"-"`
	CreatedAt time.Time `json:"-"`
}

// VotingCandidate is a restaurant promoted into a voting round. AddedBy is a
// display name for manual additions or "AI" for recommender-sourced picks.
// Votes/VotedBy belong to the legacy single-tap vote mode only; ballot scores
// are derived from ballots, never stored per candidate.
type VotingCandidate struct {
	ID         string  `gorm:"primaryKey" json:"id"`
	PartyCode  string  `gorm:"primaryKey;index:idx_candidate_party_key,unique" json:"-"`
	Name       string  `gorm:"not null" json:"name"`
	Cuisine    string  `json:"cuisine"`
	PriceRange string  `json:"priceRange"`
	Rating     float64 `json:"rating"`
	Distance   string  `json:"distance"`
	Address    string  `json:"address"`
	Image      string  `json:"image,omitempty"`
	AddedBy    string  `json:"addedBy"`
	Source     string  `json:"source"` // "manual" 或 "ai"

	Votes   int64      `gorm:"default:0" json:"votes"`
	VotedBy StringList `gorm:"type:text" json:"votedBy"`

	DedupKey  string    `gorm:"index:idx_candidate_party_key,unique" json:"-"`
	Position  int       `gorm:"not null" json:"-"`
	CreatedAt time.Time `json:"-"`
}

// Ballot is one participant's complete like-set for a voting round. At most
// one ballot per participant per party; resubmission overwrites.
type Ballot struct {
	PartyCode  string     `gorm:"primaryKey" json:"-"`
	UserID     string     `gorm:"primaryKey" json:"userId"`
	LikedIDs   StringList `gorm:"type:text" json:"likedIds"`
	Finished   bool       `gorm:"default:false" json:"finished"`
	FinishedAt time.Time  `json:"finishedAt"`
}

// TopResult is the winning candidate of a closed round with its final score.
type TopResult struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Cuisine    string  `json:"cuisine"`
	PriceRange string  `json:"priceRange"`
	Rating     float64 `json:"rating"`
	Address    string  `json:"address"`
	Image      string  `json:"image,omitempty"`
	AddedBy    string  `json:"addedBy"`
	FinalScore int     `json:"finalScore"`
}

// DedupKey computes the identity key for candidate deduplication:
// lowercase(name) + "|" + lowercase(address).
func DedupKey(name, address string) string {
	return strings.ToLower(name) + "|" + strings.ToLower(address)
}
