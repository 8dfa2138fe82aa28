// Package phone normalizes user-entered phone numbers for storage and lookup.
//
// The result is not a validated E.164 number; it is only a stable form so that
// the number saved in a channel configuration matches the one a provider
// reports on inbound messages.
package phone

import "strings"

// DefaultCountryCode is assumed when a number carries no recognizable prefix.
const DefaultCountryCode = "39"

// knownCallingCodes are matched as digit prefixes when no "+" is present.
var knownCallingCodes = []string{"39", "1", "44", "34", "33", "49"}

var stripper = strings.NewReplacer(" ", "", "\t", "", "\n", "", "(", "", ")", "", "-", "")

// Format canonicalizes raw into "+<country><number>".
func Format(raw string) string {
	cleaned := stripper.Replace(strings.TrimSpace(raw))
	if cleaned == "" {
		return ""
	}
	if strings.HasPrefix(cleaned, "+") {
		return cleaned
	}
	if strings.HasPrefix(cleaned, "00") {
		return "+" + strings.TrimPrefix(cleaned, "00")
	}
	// Italian mobile shape wins over the calling-code table: "333..." would
	// otherwise read as a French "+33" number.
	if IsItalianMobile(cleaned) {
		return "+" + DefaultCountryCode + cleaned
	}
	for _, code := range knownCallingCodes {
		if strings.HasPrefix(cleaned, code) {
			return "+" + cleaned
		}
	}
	return "+" + DefaultCountryCode + cleaned
}

// IsItalianMobile reports whether digits is a bare 10-digit number starting with 3.
func IsItalianMobile(digits string) bool {
	if len(digits) != 10 || digits[0] != '3' {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// IsItalianMobileE164 accepts "+393XXXXXXXXX" or the bare 10-digit form.
func IsItalianMobileE164(number string) bool {
	number = strings.ReplaceAll(number, " ", "")
	return IsItalianMobile(strings.TrimPrefix(number, "+"+DefaultCountryCode))
}

// WhatsAppAddress prefixes a canonical number with the channel scheme.
func WhatsAppAddress(number string) string {
	if strings.HasPrefix(number, WhatsAppScheme) {
		return number
	}
	return WhatsAppScheme + Format(number)
}

// StripScheme removes the channel scheme from a provider address.
func StripScheme(address string) string {
	return strings.TrimPrefix(strings.TrimSpace(address), WhatsAppScheme)
}

// WhatsAppScheme is the address prefix the provider uses for WhatsApp endpoints.
const WhatsAppScheme = "whatsapp:"
