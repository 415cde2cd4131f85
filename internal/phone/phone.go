package phone

import (
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// Normalize parses a raw recipient number and returns it in E.164 form.
// region is the fallback country code for numbers entered without a prefix.
func Normalize(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty phone number")
	}

	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", fmt.Errorf("failed to parse %q: %w", raw, err)
	}

	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("%q is not a valid phone number", raw)
	}

	return phonenumbers.Format(num, phonenumbers.E164), nil
}
