package rail

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StripeClient клиент Stripe Connect для переводов на подключенные счета
type StripeClient struct {
	secretKey  string
	baseURL    string
	refreshURL string
	returnURL  string
	testMode   bool
	httpClient *http.Client
	logger     *zap.Logger
}

// StripeOptions параметры клиента Stripe
type StripeOptions struct {
	SecretKey  string
	BaseURL    string
	RefreshURL string
	ReturnURL  string
	TestMode   bool
	Timeout    time.Duration
}

type stripeObject struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type stripeErrorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewStripeClient создает новый клиент Stripe
func NewStripeClient(opts StripeOptions, logger *zap.Logger) *StripeClient {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}

	return &StripeClient{
		secretKey:  opts.SecretKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		refreshURL: opts.RefreshURL,
		returnURL:  opts.ReturnURL,
		testMode:   opts.TestMode,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		logger: logger,
	}
}

// CreateAccount создает express-счет для реферера
func (c *StripeClient) CreateAccount(ctx context.Context, req AccountRequest) (string, error) {
	if c.testMode {
		accountID := "acct_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
		c.logger.Info("создан тестовый счет Stripe",
			zap.String("account_id", accountID),
			zap.String("referrer_id", req.ReferrerID),
			zap.Bool("test_mode", true))
		return accountID, nil
	}

	form := url.Values{}
	form.Set("type", "express")
	form.Set("email", req.Email)
	form.Set("country", req.Country)
	form.Set("capabilities[transfers][requested]", "true")
	form.Set("metadata[referrer_id]", req.ReferrerID)

	var account stripeObject
	if err := c.post(ctx, "/v1/accounts", form, "", &account); err != nil {
		return "", err
	}

	c.logger.Info("создан счет Stripe",
		zap.String("account_id", account.ID),
		zap.String("referrer_id", req.ReferrerID))
	return account.ID, nil
}

// CreateOnboardingLink создает ссылку на заполнение данных счета
func (c *StripeClient) CreateOnboardingLink(ctx context.Context, accountID string) (string, error) {
	if c.testMode {
		return fmt.Sprintf("https://connect.stripe.com/setup/e/test/%s", accountID), nil
	}

	form := url.Values{}
	form.Set("account", accountID)
	form.Set("refresh_url", c.refreshURL)
	form.Set("return_url", c.returnURL)
	form.Set("type", "account_onboarding")

	var link stripeObject
	if err := c.post(ctx, "/v1/account_links", form, "", &link); err != nil {
		return "", err
	}
	return link.URL, nil
}

// CreateTransfer переводит сумму на подключенный счет. Повтор с тем же PayoutID не создает второй перевод.
func (c *StripeClient) CreateTransfer(ctx context.Context, req TransferRequest) (string, error) {
	if c.testMode {
		transferID := "tr_test_" + strings.ReplaceAll(req.PayoutID, "-", "")
		c.logger.Info("создан тестовый перевод Stripe",
			zap.String("transfer_id", transferID),
			zap.String("payout_id", req.PayoutID),
			zap.String("amount", req.Amount.String()),
			zap.Bool("test_mode", true))
		return transferID, nil
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(int64(req.Amount), 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("destination", req.AccountID)
	form.Set("description", req.Description)
	form.Set("transfer_group", req.PayoutID)
	form.Set("metadata[payout_id]", req.PayoutID)

	var transfer stripeObject
	if err := c.post(ctx, "/v1/transfers", form, IdempotencyKey(req.PayoutID), &transfer); err != nil {
		return "", err
	}

	c.logger.Info("перевод создан в Stripe",
		zap.String("transfer_id", transfer.ID),
		zap.String("payout_id", req.PayoutID),
		zap.String("amount", req.Amount.String()))
	return transfer.ID, nil
}

func (c *StripeClient) post(ctx context.Context, path string, form url.Values, idempotencyKey string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("ошибка создания HTTP запроса: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

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
		return stripeError(resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &Error{Code: "invalid_response", Message: fmt.Sprintf("ошибка парсинга ответа: %v", err), Unknown: true}
	}
	return nil
}

// stripeError разбирает конверт ошибки Stripe. Ответ 5xx не гарантирует, что операция не выполнена.
func stripeError(status int, body []byte) *Error {
	var envelope stripeErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error.Message == "" {
		return &Error{
			Code:    "http_" + strconv.Itoa(status),
			Message: fmt.Sprintf("неожиданный статус ответа: %d", status),
			Unknown: status >= 500,
		}
	}

	code := envelope.Error.Code
	if code == "" {
		code = envelope.Error.Type
	}
	return &Error{Code: code, Message: envelope.Error.Message, Unknown: status >= 500}
}
