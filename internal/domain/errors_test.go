package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCategories(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err      error
		category error
	}{
		{ErrInvalidCredentials, ErrAuth},
		{ErrExpiredToken, ErrAuth},
		{ErrInvalidToken, ErrAuth},
		{ErrSessionRevoked, ErrAuth},
		{ErrSessionExpired, ErrAuth},
		{ErrEmailExists, ErrConflict},
		{ErrMissingRoleSeed, ErrConfig},
		{ErrMalformedDuration, ErrConfig},
		{ErrUserNotFound, ErrNotFound},
		{ErrSessionNotFound, ErrNotFound},
		{Invalid("email", "Invalid email address"), ErrValidation},
	}

	for _, tt := range tests {
		wrapped := fmt.Errorf("outer: %w", tt.err)
		assert.ErrorIs(t, wrapped, tt.category, tt.err.Error())
		assert.ErrorIs(t, wrapped, tt.err)
	}
}

func TestErrorCategoriesDoNotOverlap(t *testing.T) {
	t.Parallel()

	assert.False(t, errors.Is(ErrMissingRoleSeed, ErrAuth))
	assert.False(t, errors.Is(ErrEmailExists, ErrValidation))
	assert.False(t, errors.Is(ErrSessionRevoked, ErrSessionExpired))
}

func TestValidationErrorMessage(t *testing.T) {
	t.Parallel()

	err := Invalid("password", "Password must be at least 8 characters")
	assert.Equal(t, "password: Password must be at least 8 characters", err.Error())

	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
	assert.Equal(t, "password", verr.Field)
}
