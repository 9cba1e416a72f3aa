// Package missions предоставляет клиент для внешней системы учёта миссий.
package missions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client инкапсулирует HTTP-взаимодействие с системой учёта миссий.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Progress описывает ответ системы учёта миссий по одному пользователю.
type Progress struct {
	UserID    int64 `json:"user_id"`
	Completed int   `json:"completed"`
}

// NewClient создаёт HTTP-клиент для обращения к системе учёта миссий по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// GetProgress запрашивает количество выполненных пользователем миссий в наборе.
// Статус 204 означает, что прогресс по пользователю ещё не зафиксирован.
func (c *Client) GetProgress(ctx context.Context, missionSetID uuid.UUID, userID int64) (*Progress, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("missions client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	url := fmt.Sprintf("%s/api/mission-sets/%s/users/%d", base, missionSetID, userID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result Progress
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &result, nil
}
