package models

import "errors"

// ErrorKind классифицирует ошибки движка
type ErrorKind string

// KindValidation означает ошибку во входных данных, которую исправляет вызывающая сторона.
// KindConflict означает, что состояние записи уже изменил кто-то другой.
const (
	KindValidation ErrorKind = "validation"
	KindConflict   ErrorKind = "conflict"
	KindNotFound   ErrorKind = "not_found"
	KindForbidden  ErrorKind = "forbidden"
	KindExternal   ErrorKind = "external"
	KindDisabled   ErrorKind = "disabled"
)

// Error представляет типизированную ошибку с машинно-читаемым кодом
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Ошибки валидации
var (
	ErrInvalidInput         = newError(KindValidation, "invalid_input", "некорректные входные данные")
	ErrInvalidCode          = newError(KindValidation, "invalid_code", "реферальный код не найден или неактивен")
	ErrBelowMinimum         = newError(KindValidation, "below_minimum", "сумма меньше минимальной суммы выплаты")
	ErrMissingSocialProof   = newError(KindValidation, "missing_social_proof", "нет подтвержденной публикации в соцсетях")
	ErrInsufficientBalance  = newError(KindValidation, "insufficient_balance", "недостаточно доступного баланса")
	ErrAmountNotSettleable  = newError(KindValidation, "amount_not_settleable", "сумма не совпадает с суммой целых комиссий")
	ErrFeesExceedAmount     = newError(KindValidation, "fees_exceed_amount", "комиссии превышают сумму выплаты")
	ErrUnsupportedMethod    = newError(KindValidation, "unsupported_method", "способ выплаты не поддерживается")
	ErrPayoutAccountMissing = newError(KindValidation, "payout_account_missing", "у реферера не подключен счет для выплат")
)

// Конфликты состояния
var (
	ErrDuplicateReferral = newError(KindConflict, "duplicate_referral", "для этого email уже есть активный реферал")
	ErrEmailTaken        = newError(KindConflict, "email_taken", "реферер с таким email уже зарегистрирован")
	ErrReferralClaimed   = newError(KindConflict, "referral_claimed", "реферал уже включен в другую выплату")
	ErrNotApproved       = newError(KindConflict, "not_approved", "выплата не одобрена")
	ErrAlreadyExecuted   = newError(KindConflict, "already_executed", "выплата уже исполнялась")
	ErrInvalidTransition = newError(KindConflict, "invalid_transition", "недопустимый переход статуса")
	ErrReferrerInactive  = newError(KindConflict, "referrer_inactive", "аккаунт реферера неактивен")
)

var (
	ErrNotFound        = newError(KindNotFound, "not_found", "запись не найдена")
	ErrForbidden       = newError(KindForbidden, "forbidden", "недостаточно прав")
	ErrProgramDisabled = newError(KindDisabled, "program_disabled", "реферальная программа отключена")
)

// KindOf возвращает класс ошибки или пустую строку для нетипизированных ошибок
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// WithMessage возвращает копию ошибки с уточненным сообщением.
// errors.Is продолжает узнавать исходную ошибку.
func (e *Error) WithMessage(message string) error {
	return &detailed{err: &Error{Kind: e.Kind, Code: e.Code, Message: message}, base: e}
}

type detailed struct {
	err  *Error
	base *Error
}

func (d *detailed) Error() string {
	return d.err.Message
}

func (d *detailed) Unwrap() error {
	return d.base
}

// As отдает уточненную копию, чтобы вызывающая сторона видела новое сообщение
func (d *detailed) As(target any) bool {
	if t, ok := target.(**Error); ok {
		*t = d.err
		return true
	}
	return false
}
