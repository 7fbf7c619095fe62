// Package rail содержит клиенты внешних платежных систем для перевода комиссий
package rail

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"commission-engine/internal/metrics"
	"commission-engine/pkg/models"
	"commission-engine/pkg/money"
)

// AccountRequest запрос на создание счета получателя
type AccountRequest struct {
	ReferrerID string
	Email      string
	Country    string
}

// TransferRequest запрос на перевод средств рефереру
type TransferRequest struct {
	PayoutID    string
	AccountID   string
	Amount      money.Cents
	Currency    string
	Description string
}

// Rail платежная система для выплат реферерам
type Rail interface {
	CreateAccount(ctx context.Context, req AccountRequest) (string, error)
	CreateOnboardingLink(ctx context.Context, accountID string) (string, error)
	CreateTransfer(ctx context.Context, req TransferRequest) (string, error)
}

// Error ошибка платежной системы. Unknown означает, что результат операции неизвестен.
type Error struct {
	Code    string
	Message string
	Unknown bool
}

func (e *Error) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsUnknown сообщает, что исход операции неизвестен (таймаут или обрыв соединения)
func IsUnknown(err error) bool {
	var railErr *Error
	return errors.As(err, &railErr) && railErr.Unknown
}

// transportError превращает ошибку отправки запроса в ошибку с неизвестным исходом
func transportError(err error) *Error {
	code := "transport_error"
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		code = "timeout"
	}
	return &Error{Code: code, Message: err.Error(), Unknown: true}
}

// IdempotencyKey ключ идемпотентности перевода по выплате
func IdempotencyKey(payoutID string) string {
	return "payout-" + payoutID
}

// Registry сопоставляет способ выплаты и платежную систему
type Registry struct {
	mu      sync.RWMutex
	rails   map[models.PayoutMethod]Rail
	metrics *metrics.Metrics
}

// NewRegistry создает реестр платежных систем
func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{
		rails:   make(map[models.PayoutMethod]Rail),
		metrics: m,
	}
}

// Register добавляет платежную систему для способа выплаты
func (r *Registry) Register(method models.PayoutMethod, rail Rail) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rails[method] = &instrumented{name: string(method), next: rail, metrics: r.metrics}
}

// Get возвращает платежную систему для способа выплаты
func (r *Registry) Get(method models.PayoutMethod) (Rail, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rail, ok := r.rails[method]
	if !ok {
		return nil, models.ErrUnsupportedMethod
	}
	return rail, nil
}

// instrumented пишет длительность и результат каждого вызова в метрики
type instrumented struct {
	name    string
	next    Rail
	metrics *metrics.Metrics
}

func (i *instrumented) observe(operation string, started time.Time, err error) {
	result := "success"
	switch {
	case IsUnknown(err):
		result = "unknown"
	case err != nil:
		result = "error"
	}
	i.metrics.RecordRailCall(i.name, operation, result, time.Since(started).Seconds())
}

func (i *instrumented) CreateAccount(ctx context.Context, req AccountRequest) (id string, err error) {
	started := time.Now()
	defer func() { i.observe("create_account", started, err) }()
	return i.next.CreateAccount(ctx, req)
}

func (i *instrumented) CreateOnboardingLink(ctx context.Context, accountID string) (link string, err error) {
	started := time.Now()
	defer func() { i.observe("onboarding_link", started, err) }()
	return i.next.CreateOnboardingLink(ctx, accountID)
}

func (i *instrumented) CreateTransfer(ctx context.Context, req TransferRequest) (id string, err error) {
	started := time.Now()
	defer func() { i.observe("create_transfer", started, err) }()
	return i.next.CreateTransfer(ctx, req)
}
