package card

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"
)

const (
	cardNumberLen = 16
	debitBIN      = "421355"
	creditBIN     = "540110"
)

// validityYears is how long a card is valid from issue, per product.
var validityYears = map[Kind]int{KindDebit: 5, KindCredit: 3}

// GenerateNumber returns a random 16-digit card number for the product BIN
// with a valid Luhn check digit.
func GenerateNumber(kind Kind) (string, error) {
	bin := debitBIN
	if kind == KindCredit {
		bin = creditBIN
	}
	digits, err := randomDigits(cardNumberLen - 1 - len(bin))
	if err != nil {
		return "", fmt.Errorf("generate card number: %w", err)
	}
	body := bin + digits
	return body + luhnCheckDigit(body), nil
}

// ExpirationFor returns the default expiration date of a card issued at issue.
func ExpirationFor(kind Kind, issue time.Time) time.Time {
	years, ok := validityYears[kind]
	if !ok {
		years = 5
	}
	t := issue.UTC()
	// last instant of the issue month, years later
	firstNext := time.Date(t.Year()+years, t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return firstNext.Add(-time.Nanosecond)
}

// ValidNumber reports whether n is 13..19 digits with a valid check digit.
func ValidNumber(n string) bool {
	if l := len(n); l < 13 || l > 19 {
		return false
	}
	for i := 0; i < len(n); i++ {
		if n[i] < '0' || n[i] > '9' {
			return false
		}
	}
	return luhnCheckDigit(n[:len(n)-1])[0] == n[len(n)-1]
}

// randomDigits uses rejection sampling so every digit is equally likely.
func randomDigits(count int) (string, error) {
	const threshold = 250
	var sb strings.Builder
	sb.Grow(count)
	buf := make([]byte, 32)
	for sb.Len() < count {
		n, err := rand.Read(buf)
		if err != nil {
			return "", err
		}
		for i := 0; i < n && sb.Len() < count; i++ {
			if buf[i] < threshold {
				sb.WriteByte('0' + buf[i]%10)
			}
		}
	}
	return sb.String(), nil
}

func luhnCheckDigit(body string) string {
	sum, dbl := 0, true
	for i := len(body) - 1; i >= 0; i-- {
		d := int(body[i] - '0')
		if dbl {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		dbl = !dbl
	}
	return string('0' + byte((10-sum%10)%10))
}
