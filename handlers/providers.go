package handlers

import (
	"context"

	"partypick-backend/models"
	"partypick-backend/recommender"
)

// PlacesSearcher finds restaurants for a free-text query.
type PlacesSearcher interface {
	SearchText(ctx context.Context, query string, maxResults int) ([]models.Restaurant, error)
}

// VibeRecommender turns a party's vibes into restaurant suggestions.
type VibeRecommender interface {
	Recommend(ctx context.Context, vibes []models.Vibe, location string) ([]recommender.Recommendation, error)
}

// 外部服务客户端，由main在启动时注入，测试中可替换
var (
	placesClient      PlacesSearcher
	recommenderClient VibeRecommender
)

// InitProviders 注入外部服务客户端
func InitProviders(p PlacesSearcher, r VibeRecommender) {
	placesClient = p
	recommenderClient = r
}
