// Package subscription получает статус подписки профессионала в маркетплейсе
package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Status статус подписки профессионала
type Status string

const (
	StatusActive    Status = "active"
	StatusTrialing  Status = "trialing"
	StatusCancelled Status = "cancelled"
	StatusPastDue   Status = "past_due"
	StatusNotFound  Status = "not_found"
)

// Keeps сообщает, удерживает ли подписка комиссию за реферала
func (s Status) Keeps() bool {
	return s == StatusActive || s == StatusTrialing
}

// Client клиент API подписок маркетплейса
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

type statusResponse struct {
	Status string `json:"status"`
}

// NewClient создает клиент API подписок
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Status возвращает текущий статус подписки профессионала.
// Неизвестный профессионал дает StatusNotFound без ошибки.
func (c *Client) Status(ctx context.Context, professionalID string) (Status, error) {
	endpoint := fmt.Sprintf("%s/professionals/%s/subscription", c.baseURL, url.PathEscape(professionalID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("ошибка создания HTTP запроса: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ошибка отправки запроса: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return StatusNotFound, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("неожиданный статус ответа: %d", resp.StatusCode)
	}

	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("ошибка парсинга ответа: %w", err)
	}

	status := Status(strings.ToLower(strings.TrimSpace(body.Status)))
	c.logger.Debug("получен статус подписки",
		zap.String("professional_id", professionalID),
		zap.String("status", string(status)))

	return status, nil
}
