package validation

import (
	"math"
	"regexp"
	"strings"
)

var (
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	phoneRegex = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)
	codeRegex  = regexp.MustCompile(`^[A-Za-z0-9]{5}$`)
)

func ValidateEmail(email string) bool {
	email = strings.TrimSpace(email)
	return email != "" && emailRegex.MatchString(email) && len(email) <= 200
}

// ValidatePhone accepts an empty phone; contact numbers are optional.
func ValidatePhone(phone string) bool {
	phone = strings.TrimSpace(phone)
	return phone == "" || (phoneRegex.MatchString(phone) && len(phone) <= 50)
}

func ValidateName(name string) bool {
	name = strings.TrimSpace(name)
	return len(name) >= 2 && len(name) <= 200
}

func ValidatePassword(password string) bool {
	return len(password) >= 6 && len(password) <= 100
}

// ValidateCoordinates requires finite values inside the WGS84 range.
func ValidateCoordinates(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// ValidateVerificationCode checks the 5-character alphanumeric shape, any case.
func ValidateVerificationCode(code string) bool {
	return codeRegex.MatchString(code)
}

func ValidateCommissionRate(rate float64) bool {
	return !math.IsNaN(rate) && rate >= 0 && rate <= 100
}
