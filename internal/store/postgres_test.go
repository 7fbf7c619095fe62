package store

import (
	"errors"
	"fmt"
	"testing"

	"commission-engine/pkg/models"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestUniqueConstraint(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "referrers_referral_code_unique"})

	name, ok := uniqueConstraint(err)
	assert.True(t, ok)
	assert.Equal(t, "referrers_referral_code_unique", name)

	_, ok = uniqueConstraint(&pgconn.PgError{Code: "23503"})
	assert.False(t, ok)

	_, ok = uniqueConstraint(errors.New("connection reset"))
	assert.False(t, ok)
}

func TestValidID(t *testing.T) {
	assert.True(t, validID("7c1e8a52-2f7b-4f86-9d0e-5b3f0b7a9c11"))
	assert.False(t, validID("abc"))
	assert.False(t, validID(""))
}

func TestReferralStatusStrings(t *testing.T) {
	got := referralStatusStrings([]models.ReferralStatus{models.ReferralStatusCancelled, models.ReferralStatusFraud})
	assert.Equal(t, []string{"cancelled", "fraud"}, got)
}
