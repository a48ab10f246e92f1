package places

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"partypick-backend/models"
)

const defaultBaseURL = "https://places.googleapis.com/v1/places:searchText"

// fieldMask limits the provider response to the fields we normalize.
const fieldMask = "places.id,places.displayName,places.formattedAddress,places.rating,places.priceLevel,places.types,places.photos"

// Client is a text-search client for the places provider. Without an API key
// it serves a fixed mock list so the rest of the system works in development.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a Client from PLACES_API_KEY / PLACES_BASE_URL.
func NewClient() *Client {
	baseURL := os.Getenv("PLACES_BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:  os.Getenv("PLACES_API_KEY"),
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type searchRequest struct {
	TextQuery string `json:"textQuery"`
	PageSize  int    `json:"pageSize"`
}

type place struct {
	ID          string `json:"id"`
	DisplayName struct {
		Text string `json:"text"`
	} `json:"displayName"`
	FormattedAddress string   `json:"formattedAddress"`
	Rating           float64  `json:"rating"`
	PriceLevel       string   `json:"priceLevel"`
	Types            []string `json:"types"`
	Photos           []struct {
		Name string `json:"name"`
	} `json:"photos"`
}

type searchResponse struct {
	Places []place `json:"places"`
}

// SearchText queries the provider for restaurants matching the free-text
// query and returns them normalized. maxResults caps the returned slice.
func (c *Client) SearchText(ctx context.Context, query string, maxResults int) ([]models.Restaurant, error) {
	if c.apiKey == "" {
		// 未配置API密钥，返回内置的模拟餐厅列表
		log.Println("未配置PLACES_API_KEY，使用模拟餐厅数据")
		return mockRestaurants(maxResults), nil
	}

	reqBody, err := json.Marshal(searchRequest{TextQuery: query, PageSize: 20})
	if err != nil {
		return nil, fmt.Errorf("编码搜索请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("创建搜索请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", fieldMask)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("调用地点搜索服务失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("地点搜索服务返回状态 %d: %s", resp.StatusCode, string(body))
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("解析搜索响应失败: %w", err)
	}

	restaurants := make([]models.Restaurant, 0, len(result.Places))
	for _, p := range result.Places {
		if p.DisplayName.Text == "" {
			continue
		}
		r := models.Restaurant{
			ID:         p.ID,
			Name:       p.DisplayName.Text,
			Cuisine:    CuisineFromTypes(p.Types),
			PriceRange: PriceTier(p.PriceLevel),
			Rating:     p.Rating,
			Address:    p.FormattedAddress,
		}
		if len(p.Photos) > 0 {
			r.Image = PhotoURL(p.ID, p.Photos[0].Name)
		}
		restaurants = append(restaurants, r)
		if maxResults > 0 && len(restaurants) >= maxResults {
			break
		}
	}
	return restaurants, nil
}

// PriceTier maps a provider price level to a display tier.
func PriceTier(level string) string {
	switch level {
	case "PRICE_LEVEL_FREE", "PRICE_LEVEL_INEXPENSIVE":
		return "$"
	case "PRICE_LEVEL_MODERATE":
		return "$$"
	case "PRICE_LEVEL_EXPENSIVE":
		return "$$$"
	case "PRICE_LEVEL_VERY_EXPENSIVE":
		return "$$$$"
	default:
		return "$$"
	}
}

// cuisineTable maps provider category tags to display labels. Order matters:
// the first tag in the place's type list with an entry wins.
var cuisineTable = map[string]string{
	"japanese_restaurant":      "Japanese",
	"sushi_restaurant":         "Japanese",
	"korean_restaurant":        "Korean",
	"chinese_restaurant":       "Chinese",
	"thai_restaurant":          "Thai",
	"vietnamese_restaurant":    "Vietnamese",
	"indian_restaurant":        "Indian",
	"italian_restaurant":       "Italian",
	"pizza_restaurant":         "Pizza",
	"mexican_restaurant":       "Mexican",
	"french_restaurant":        "French",
	"greek_restaurant":         "Greek",
	"mediterranean_restaurant": "Mediterranean",
	"american_restaurant":      "American",
	"hamburger_restaurant":     "Burgers",
	"barbecue_restaurant":      "BBQ",
	"seafood_restaurant":       "Seafood",
	"steak_house":              "Steakhouse",
	"vegan_restaurant":         "Vegan",
	"vegetarian_restaurant":    "Vegetarian",
	"ramen_restaurant":         "Ramen",
	"brunch_restaurant":        "Brunch",
	"breakfast_restaurant":     "Breakfast",
	"cafe":                     "Cafe",
	"coffee_shop":              "Cafe",
	"bakery":                   "Bakery",
	"bar":                      "Bar",
	"sandwich_shop":            "Sandwiches",
	"fast_food_restaurant":     "Fast Food",
}

// CuisineFromTypes picks a cuisine label for a place's category tags, falling
// back to "Restaurant" when none match.
func CuisineFromTypes(types []string) string {
	for _, t := range types {
		if label, ok := cuisineTable[strings.ToLower(t)]; ok {
			return label
		}
	}
	return "Restaurant"
}

// PhotoURL builds the media URL for a place photo resource name. The resource
// name comes back as "places/<id>/photos/<resource>"; only the trailing
// resource part is used.
func PhotoURL(placeID, photoName string) string {
	idx := strings.Index(photoName, "/photos/")
	if idx < 0 {
		return ""
	}
	resource := photoName[idx+len("/photos/"):]
	if resource == "" {
		return ""
	}
	return fmt.Sprintf("https://places.googleapis.com/v1/places/%s/photos/%s/media?maxHeightPx=400&maxWidthPx=400", placeID, resource)
}

// mockRestaurants is the key-less development dataset.
func mockRestaurants(maxResults int) []models.Restaurant {
	list := []models.Restaurant{
		{ID: "mock-1", Name: "The Golden Spoon", Cuisine: "American", PriceRange: "$$", Rating: 4.5, Distance: "0.8 mi", Address: "123 Main St, Downtown"},
		{ID: "mock-2", Name: "Pizza Paradise", Cuisine: "Pizza", PriceRange: "$", Rating: 4.8, Distance: "1.2 mi", Address: "456 Oak Ave"},
		{ID: "mock-3", Name: "Sushi Sensation", Cuisine: "Japanese", PriceRange: "$$$", Rating: 4.6, Distance: "2.3 mi", Address: "789 Pine St"},
		{ID: "mock-4", Name: "Burger Barn", Cuisine: "Burgers", PriceRange: "$", Rating: 4.2, Distance: "1.5 mi", Address: "321 Elm St"},
		{ID: "mock-5", Name: "Thai Terrace", Cuisine: "Thai", PriceRange: "$$", Rating: 4.7, Distance: "3.1 mi", Address: "555 Market St"},
	}
	if maxResults > 0 && maxResults < len(list) {
		return list[:maxResults]
	}
	return list
}
