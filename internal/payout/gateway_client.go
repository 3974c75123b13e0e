package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Статусы перевода на стороне платежного шлюза
const (
	GatewayStatusAccepted  = "accepted"
	GatewayStatusCompleted = "completed"
	GatewayStatusFailed    = "failed"
)

// GatewayHTTPClient представляет клиент API платежного шлюза для переводов
type GatewayHTTPClient struct {
	baseURL    string
	apiKey     string
	testMode   bool
	httpClient *http.Client
	logger     *zap.Logger
}

// DisbursementRequest представляет запрос на создание перевода
type DisbursementRequest struct {
	Reference   string `json:"reference"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Method      string `json:"method"`
	Destination string `json:"destination"`
}

// DisbursementResponse представляет ответ шлюза
type DisbursementResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Reference string `json:"reference"`
	CreatedAt string `json:"created_at"`
	Reason    string `json:"reason,omitempty"`
}

// NewGatewayClient создает новый клиент платежного шлюза
func NewGatewayClient(baseURL, apiKey string, timeout time.Duration, testMode bool, logger *zap.Logger) *GatewayHTTPClient {
	return &GatewayHTTPClient{
		baseURL:  baseURL,
		apiKey:   apiKey,
		testMode: testMode,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// CreateDisbursement создает перевод в шлюзе. Ключ идемпотентности
// передается в заголовке: повтор того же запроса не создаст второй перевод.
func (c *GatewayHTTPClient) CreateDisbursement(ctx context.Context, idempotencyKey string, amount float64, currency, method, destination string) (*DisbursementResponse, error) {
	// В тестовом режиме перевод считается мгновенно успешным
	if c.testMode {
		resp := &DisbursementResponse{
			ID:        fmt.Sprintf("test_disb_%s", idempotencyKey),
			Status:    GatewayStatusCompleted,
			Reference: idempotencyKey,
		}
		c.logger.Info("создан тестовый перевод",
			zap.String("disbursement_id", resp.ID),
			zap.Float64("amount", amount),
			zap.Bool("test_mode", true))
		return resp, nil
	}

	disbReq := DisbursementRequest{
		Reference:   idempotencyKey,
		Amount:      fmt.Sprintf("%.2f", amount),
		Currency:    currency,
		Method:      method,
		Destination: destination,
	}

	reqBody, err := json.Marshal(disbReq)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации запроса: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/disbursements", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания HTTP запроса: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Idempotence-Key", idempotencyKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ошибка отправки запроса: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("неожиданный статус ответа: %d, ответ: %s", resp.StatusCode, string(body))
	}

	var disbResp DisbursementResponse
	if err := json.NewDecoder(resp.Body).Decode(&disbResp); err != nil {
		return nil, fmt.Errorf("ошибка парсинга ответа: %w", err)
	}

	c.logger.Info("перевод создан в шлюзе",
		zap.String("disbursement_id", disbResp.ID),
		zap.String("status", disbResp.Status),
		zap.Float64("amount", amount))

	return &disbResp, nil
}

// CheckDisbursementStatus проверяет статус перевода по ключу идемпотентности
func (c *GatewayHTTPClient) CheckDisbursementStatus(ctx context.Context, idempotencyKey string) (string, error) {
	if c.testMode {
		return GatewayStatusCompleted, nil
	}

	url := fmt.Sprintf("%s/v1/disbursements/by-reference/%s", c.baseURL, idempotencyKey)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", fmt.Errorf("ошибка создания HTTP запроса: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ошибка отправки запроса: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Шлюз никогда не видел этот перевод, отправка не состоялась
		return GatewayStatusFailed, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("неожиданный статус ответа: %d", resp.StatusCode)
	}

	var disbResp DisbursementResponse
	if err := json.NewDecoder(resp.Body).Decode(&disbResp); err != nil {
		return "", fmt.Errorf("ошибка парсинга ответа: %w", err)
	}

	return disbResp.Status, nil
}
