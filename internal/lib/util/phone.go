package util

import (
	"strings"
	"unicode"

	"github.com/biter777/countries"
)

const fallbackCallCode = "+380"

// CallCode returns the international calling code of an ISO country, e.g. "UA" gives "+380".
func CallCode(country string) string {
	c := countries.ByName(strings.TrimSpace(country))
	if c == countries.Unknown {
		return fallbackCallCode
	}
	codes := c.CallCodes()
	if len(codes) == 0 {
		return fallbackCallCode
	}
	return codes[0].String()
}

// InternationalPhone converts a local phone number to international form.
// Numbers shorter than 9 digits are returned as bare digits.
func InternationalPhone(phone, callCode string) string {
	var b strings.Builder
	for _, r := range phone {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < 9 {
		return digits
	}

	if len(digits) == 11 {
		digits = strings.TrimPrefix(digits, "8")
	}
	if len(digits) == 10 {
		digits = strings.TrimPrefix(digits, "0")
	}

	if len(digits) == 9 {
		return callCode + digits
	}
	return "+" + digits
}
