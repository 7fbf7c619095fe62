package models

import "time"

// SocialVerification представляет публикацию реферера в соцсети, подтверждающую продвижение
type SocialVerification struct {
	ID            string             `json:"id" db:"id"`
	ReferrerID    string             `json:"referrer_id" db:"referrer_id"`
	Platform      string             `json:"platform" db:"platform"`
	PostURL       string             `json:"post_url" db:"post_url"`
	ScreenshotURL *string            `json:"screenshot_url,omitempty" db:"screenshot_url"`
	Status        VerificationStatus `json:"status" db:"status"`
	ReviewedBy    *string            `json:"reviewed_by,omitempty" db:"reviewed_by"`
	ReviewedAt    *time.Time         `json:"reviewed_at,omitempty" db:"reviewed_at"`
	ReviewNote    string             `json:"review_note,omitempty" db:"review_note"`
	CreatedAt     time.Time          `json:"created_at" db:"created_at"`
}

// VerificationStatus представляет статус проверки публикации
type VerificationStatus string

const (
	VerificationStatusPending  VerificationStatus = "pending"
	VerificationStatusApproved VerificationStatus = "approved"
	VerificationStatusRejected VerificationStatus = "rejected"
)

// SupportedPlatforms соцсети, публикации в которых принимаются
var SupportedPlatforms = map[string]bool{
	"facebook":  true,
	"instagram": true,
	"linkedin":  true,
	"tiktok":    true,
	"twitter":   true,
	"x":         true,
	"youtube":   true,
	"reddit":    true,
	"nextdoor":  true,
}

// VerificationRequest представляет заявку на проверку публикации
type VerificationRequest struct {
	Platform      string `json:"platform"`
	PostURL       string `json:"post_url"`
	ScreenshotURL string `json:"screenshot_url,omitempty"`
}
