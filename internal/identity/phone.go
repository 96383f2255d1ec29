package identity

import (
	"regexp"
	"strings"

	"github.com/wolfman30/clinic-booking/internal/notice"
)

var (
	phoneCharsRe  = regexp.MustCompile(`^[0-9\s\-().]+$`)
	phoneDigitsRe = regexp.MustCompile(`\d+`)
)

const (
	minE164Digits = 8
	maxE164Digits = 15
)

func digitsOnly(value string) string {
	return strings.Join(phoneDigitsRe.FindAllString(value, -1), "")
}

// FullPhoneNumber joins a country calling code and a national number into E.164.
// A single trunk prefix zero on the national number is dropped.
func FullPhoneNumber(countryCode, number string) (string, error) {
	cc := strings.TrimPrefix(strings.TrimSpace(countryCode), "+")
	number = strings.TrimSpace(number)
	if cc == "" || number == "" {
		return "", notice.New(notice.InvalidPhoneFormat, "Enter your country code and phone number.")
	}
	if !phoneCharsRe.MatchString(cc) || !phoneCharsRe.MatchString(number) {
		return "", notice.New(notice.InvalidPhoneFormat, "Phone numbers may only contain digits.")
	}
	ccDigits := digitsOnly(cc)
	if len(ccDigits) == 0 || len(ccDigits) > 3 || ccDigits[0] == '0' {
		return "", notice.New(notice.InvalidPhoneFormat, "That country code is not valid.")
	}
	national := strings.TrimPrefix(digitsOnly(number), "0")
	total := len(ccDigits) + len(national)
	if total < minE164Digits || total > maxE164Digits {
		return "", notice.New(notice.InvalidPhoneFormat, "That phone number is not valid.")
	}
	return "+" + ccDigits + national, nil
}

// NormalizeE164 ensures the value begins with + and only contains digits afterward.
func NormalizeE164(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	digits := digitsOnly(value)
	if digits == "" {
		return ""
	}
	return "+" + digits
}
