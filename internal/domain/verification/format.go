package verification

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const maskChar = "*"

// MaskSecret keeps the last visible characters of s.
func MaskSecret(s string, visible int) string {
	r := []rune(s)
	if len(r) <= visible {
		return strings.Repeat(maskChar, len(r))
	}
	return strings.Repeat(maskChar, len(r)-visible) + string(r[len(r)-visible:])
}

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return MaskSecret(email, 2)
	}
	local := []rune(email[:at])
	return string(local[0]) + strings.Repeat(maskChar, len(local)-1) + email[at:]
}

// MaskPhone keeps the last four digits.
func MaskPhone(phone string) string {
	n := NormalizePhone(phone)
	prefix := ""
	if strings.HasPrefix(n, "+") {
		prefix, n = "+", n[1:]
	}
	return prefix + MaskSecret(n, 4)
}

// MaskContact masks according to the channel's contact kind.
func MaskContact(ch Channel, contact string) string {
	if contact == "" {
		return ""
	}
	if ch == ChannelSMS {
		return MaskPhone(contact)
	}
	return MaskEmail(contact)
}

// ShortID shortens a server id for display.
func ShortID(id string) string {
	if id == "" {
		return "N/A"
	}
	if len(id) > 8 {
		return id[:8] + "..."
	}
	return id
}

// FormatPhone renders ten and eleven digit North American numbers; others pass through.
func FormatPhone(phone string) string {
	if phone == "" {
		return "N/A"
	}
	var digits strings.Builder
	for _, r := range phone {
		if unicode.IsDigit(r) {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	switch {
	case len(d) == 10:
		return "(" + d[:3] + ") " + d[3:6] + "-" + d[6:]
	case len(d) == 11 && d[0] == '1':
		return "+1 (" + d[1:4] + ") " + d[4:7] + "-" + d[7:]
	}
	return phone
}

var titleCaser = cases.Title(language.English)

// FormatStatus turns "failed_attempt" into "Failed Attempt".
func FormatStatus(status string) string {
	if status == "" {
		return "Unknown"
	}
	return titleCaser.String(strings.ReplaceAll(strings.ToLower(status), "_", " "))
}
