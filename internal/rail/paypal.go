package rail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PayPalClient клиент PayPal Payouts. Счетом получателя служит его email в PayPal.
type PayPalClient struct {
	clientID     string
	clientSecret string
	baseURL      string
	testMode     bool
	httpClient   *http.Client
	logger       *zap.Logger
	now          func() time.Time

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

// PayPalOptions параметры клиента PayPal
type PayPalOptions struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	TestMode     bool
	Timeout      time.Duration
}

type paypalToken struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type paypalAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type paypalItem struct {
	RecipientType string       `json:"recipient_type"`
	Amount        paypalAmount `json:"amount"`
	Receiver      string       `json:"receiver"`
	SenderItemID  string       `json:"sender_item_id"`
	Note          string       `json:"note,omitempty"`
}

type paypalPayoutRequest struct {
	SenderBatchHeader struct {
		SenderBatchID string `json:"sender_batch_id"`
		EmailSubject  string `json:"email_subject"`
	} `json:"sender_batch_header"`
	Items []paypalItem `json:"items"`
}

type paypalPayoutResponse struct {
	BatchHeader struct {
		PayoutBatchID string `json:"payout_batch_id"`
		BatchStatus   string `json:"batch_status"`
	} `json:"batch_header"`
}

type paypalErrorEnvelope struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	DebugID string `json:"debug_id"`
}

// NewPayPalClient создает новый клиент PayPal
func NewPayPalClient(opts PayPalOptions, logger *zap.Logger) *PayPalClient {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://api-m.sandbox.paypal.com"
	}

	return &PayPalClient{
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		baseURL:      strings.TrimRight(baseURL, "/"),
		testMode:     opts.TestMode,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		logger: logger,
		now:    time.Now,
	}
}

// CreateAccount проверяет email получателя и возвращает его как идентификатор счета
func (c *PayPalClient) CreateAccount(_ context.Context, req AccountRequest) (string, error) {
	addr, err := mail.ParseAddress(req.Email)
	if err != nil {
		return "", &Error{Code: "invalid_receiver", Message: "некорректный email получателя PayPal"}
	}
	return strings.ToLower(addr.Address), nil
}

// CreateOnboardingLink возвращает ссылку на подключение PayPal
func (c *PayPalClient) CreateOnboardingLink(_ context.Context, accountID string) (string, error) {
	connect := "https://www.paypal.com/connect"
	if c.testMode || strings.Contains(c.baseURL, "sandbox") {
		connect = "https://www.sandbox.paypal.com/connect"
	}

	params := url.Values{}
	params.Set("flowEntry", "static")
	params.Set("client_id", c.clientID)
	params.Set("scope", "openid email")
	params.Set("login_hint", accountID)
	return connect + "?" + params.Encode(), nil
}

// CreateTransfer создает выплату. sender_batch_id равен идентификатору выплаты, поэтому повтор отклоняется PayPal.
func (c *PayPalClient) CreateTransfer(ctx context.Context, req TransferRequest) (string, error) {
	if c.testMode {
		batchID := "PAYOUT-TEST-" + strings.ToUpper(strings.ReplaceAll(req.PayoutID, "-", ""))
		c.logger.Info("создана тестовая выплата PayPal",
			zap.String("batch_id", batchID),
			zap.String("payout_id", req.PayoutID),
			zap.String("amount", req.Amount.String()),
			zap.Bool("test_mode", true))
		return batchID, nil
	}

	token, err := c.token(ctx)
	if err != nil {
		// Перевод не отправлялся, исход известен
		var railErr *Error
		if errors.As(err, &railErr) {
			return "", &Error{Code: railErr.Code, Message: railErr.Message}
		}
		return "", err
	}

	var payload paypalPayoutRequest
	payload.SenderBatchHeader.SenderBatchID = req.PayoutID
	payload.SenderBatchHeader.EmailSubject = "Выплата реферальной комиссии"
	payload.Items = []paypalItem{{
		RecipientType: "EMAIL",
		Amount: paypalAmount{
			Value:    req.Amount.String(),
			Currency: strings.ToUpper(req.Currency),
		},
		Receiver:     req.AccountID,
		SenderItemID: req.PayoutID,
		Note:         req.Description,
	}}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации запроса: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payments/payouts", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ошибка создания HTTP запроса: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("PayPal-Request-Id", IdempotencyKey(req.PayoutID))

	var resp paypalPayoutResponse
	if err := c.do(httpReq, &resp); err != nil {
		return "", err
	}

	c.logger.Info("выплата создана в PayPal",
		zap.String("batch_id", resp.BatchHeader.PayoutBatchID),
		zap.String("batch_status", resp.BatchHeader.BatchStatus),
		zap.String("payout_id", req.PayoutID),
		zap.String("amount", req.Amount.String()))
	return resp.BatchHeader.PayoutBatchID, nil
}

// token возвращает кешированный OAuth2 токен или получает новый
func (c *PayPalClient) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && c.now().Before(c.expiresAt) {
		return c.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("ошибка создания HTTP запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.clientID, c.clientSecret)

	var token paypalToken
	if err := c.do(req, &token); err != nil {
		return "", err
	}

	c.accessToken = token.AccessToken
	// Обновляем токен за минуту до истечения
	c.expiresAt = c.now().Add(time.Duration(token.ExpiresIn)*time.Second - time.Minute)
	return c.accessToken, nil
}

func (c *PayPalClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope paypalErrorEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil || envelope.Name == "" {
			return &Error{
				Code:    "http_" + strconv.Itoa(resp.StatusCode),
				Message: fmt.Sprintf("неожиданный статус ответа: %d", resp.StatusCode),
				Unknown: resp.StatusCode >= 500,
			}
		}
		return &Error{Code: strings.ToLower(envelope.Name), Message: envelope.Message, Unknown: resp.StatusCode >= 500}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &Error{Code: "invalid_response", Message: fmt.Sprintf("ошибка парсинга ответа: %v", err), Unknown: true}
	}
	return nil
}
