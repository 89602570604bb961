package identity

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultPhoneRegion is used to parse numbers without a country prefix
const DefaultPhoneRegion = "US"

// NormalizeEmail trims and lower cases an address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone formats a valid number as E.164. Numbers libphonenumber
// cannot validate are kept as the trimmed input so that the upstream
// provider's representation still round trips.
func NormalizePhone(phone, region string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}
	if region == "" {
		region = DefaultPhoneRegion
	}
	num, err := phonenumbers.Parse(phone, region)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return phone
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

// NormalizeChannel applies the normalization rule for channel c
func NormalizeChannel(c Channel, value, region string) string {
	switch c {
	case ChannelEmail:
		return NormalizeEmail(value)
	case ChannelPhone:
		return NormalizePhone(value, region)
	default:
		return strings.TrimSpace(value)
	}
}

// BuildFullName joins the non blank name parts with a single space
func BuildFullName(first, last string) string {
	parts := make([]string, 0, 2)
	if s := strings.TrimSpace(first); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(last); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, " ")
}
