package service

import (
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Skotchmaster/taskhub/internal/domain"
)

const (
	maxEmailLen    = 255
	minPasswordLen = 8
	minNameLen     = 2
	maxNameLen     = 50
)

func validateEmail(email string) error {
	if email == "" {
		return domain.Invalid("email", "Email is required")
	}
	if len(email) > maxEmailLen {
		return domain.Invalid("email", "Email must be at most 255 characters")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return domain.Invalid("email", "Invalid email address")
	}
	return nil
}

func validatePassword(pw string) error {
	if utf8.RuneCountInString(pw) < minPasswordLen {
		return domain.Invalid("password", "Password must be at least 8 characters")
	}
	var upper, lower, digit, special bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	switch {
	case !upper:
		return domain.Invalid("password", "Password must contain an uppercase letter")
	case !lower:
		return domain.Invalid("password", "Password must contain a lowercase letter")
	case !digit:
		return domain.Invalid("password", "Password must contain a number")
	case !special:
		return domain.Invalid("password", "Password must contain a special character")
	}
	return nil
}

func validateName(name string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	if n < minNameLen || n > maxNameLen {
		return domain.Invalid("name", "Name must be between 2 and 50 characters")
	}
	return nil
}

func validateRegister(in RegisterInput) error {
	if err := validateName(in.Name); err != nil {
		return err
	}
	if err := validateEmail(in.Email); err != nil {
		return err
	}
	return validatePassword(in.Password)
}

func validateLogin(email, password string) error {
	if err := validateEmail(email); err != nil {
		return err
	}
	if password == "" {
		return domain.Invalid("password", "Password is required")
	}
	return nil
}
