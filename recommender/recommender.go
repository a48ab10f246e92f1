package recommender

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"partypick-backend/models"
)

const (
	defaultAPIURL = "https://api.groq.com/openai/v1/chat/completions"
	defaultModel  = "llama-3.3-70b-versatile"
)

// ErrNotConfigured indicates RECOMMENDER_API_KEY is missing. Callers fall
// back to rating-based selection.
var ErrNotConfigured = errors.New("recommender is not configured")

// Recommendation is one suggested restaurant from the model.
type Recommendation struct {
	Name       string  `json:"name"`
	Cuisine    string  `json:"cuisine"`
	PriceRange string  `json:"priceRange"`
	Address    string  `json:"address"`
	Rating     float64 `json:"rating"`
}

// Client calls an OpenAI-compatible chat-completions endpoint to turn a
// party's vibes into restaurant suggestions.
type Client struct {
	apiKey     string
	apiURL     string
	model      string
	httpClient *http.Client
}

// NewClient builds a Client from RECOMMENDER_API_KEY / RECOMMENDER_API_URL /
// RECOMMENDER_MODEL.
func NewClient() *Client {
	apiURL := os.Getenv("RECOMMENDER_API_URL")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	model := os.Getenv("RECOMMENDER_MODEL")
	if model == "" {
		model = defaultModel
	}
	return &Client{
		apiKey: os.Getenv("RECOMMENDER_API_KEY"),
		apiURL: apiURL,
		model:  model,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Recommend asks the model for restaurants matching the group's vibes and
// location. Vibes are included in submission order.
func (c *Client) Recommend(ctx context.Context, vibes []models.Vibe, location string) ([]Recommendation, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	reqBody, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: buildPrompt(vibes, location)},
		},
		Temperature: 0.6,
		MaxTokens:   4096,
	})
	if err != nil {
		return nil, fmt.Errorf("编码推荐请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("创建推荐请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("调用推荐服务失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("推荐服务返回状态 %d: %s", resp.StatusCode, string(body))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("解析推荐响应失败: %w", err)
	}
	if len(result.Choices) == 0 {
		return nil, errors.New("推荐服务未返回任何结果")
	}

	return ParseRecommendations(result.Choices[0].Message.Content)
}

// buildPrompt renders the group's preferences into the instruction text. The
// model is asked for a bare JSON array so extraction stays simple.
func buildPrompt(vibes []models.Vibe, location string) string {
	var sb strings.Builder
	for _, v := range vibes {
		sb.WriteString(v.User)
		sb.WriteString(": ")
		sb.WriteString(v.Message)
		if v.Budget != nil {
			fmt.Fprintf(&sb, " (Budget: $%.0f)", *v.Budget)
		}
		sb.WriteString("\n")
	}

	return fmt.Sprintf(`You are a restaurant recommendation expert. Analyze the following dining preferences from a group of friends and recommend 3-5 restaurants that would satisfy the group's collective preferences.

Group Preferences:
%s
Location: %s

Recommend restaurants that match the group's cuisine preferences, fit within the budget constraints mentioned, and are located in or near %s.

Format your response as a JSON array of objects with this structure:
[
  {
    "name": "Restaurant Name",
    "cuisine": "Cuisine Type",
    "priceRange": "$$",
    "address": "Street address",
    "rating": 4.5
  }
]

Only return the JSON array, no additional text.`, sb.String(), location, location)
}

// ParseRecommendations extracts a JSON array from the raw model output.
// Models often wrap the payload in markdown fences or prose; everything
// before the first '[' and after the last ']' is discarded.
func ParseRecommendations(raw string) ([]Recommendation, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.ReplaceAll(cleaned, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")

	start := strings.Index(cleaned, "[")
	end := strings.LastIndex(cleaned, "]")
	if start == -1 || end == -1 || end < start {
		return nil, errors.New("推荐响应中未找到JSON数组")
	}
	cleaned = cleaned[start : end+1]

	var recs []Recommendation
	if err := json.Unmarshal([]byte(cleaned), &recs); err != nil {
		return nil, fmt.Errorf("解析推荐JSON失败: %w", err)
	}
	return recs, nil
}
