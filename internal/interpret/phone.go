package interpret

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const unknownCountry = "Unknown"

// PhoneClass describes how a raw caller/callee identifier was interpreted.
// CountryCode 0 and CountryName "Unknown" mean no country could be inferred;
// the raw number still keys the user dimension either way.
type PhoneClass struct {
	Number      string
	IsExtension bool
	CountryCode int
	CountryName string
}

// ClassifyPhone interprets a raw caller/callee identifier. A 4-digit
// all-numeric value is an internal extension and gets no country inference.
// Anything else is parsed as a defaultRegion number; when that fails or is
// invalid and the number starts with a zero, the zero is swapped for "+" and
// parsing retried. Unparseable input degrades to an unknown country rather
// than failing.
func ClassifyPhone(number, defaultRegion string) PhoneClass {
	pc := PhoneClass{Number: strings.TrimSpace(number), CountryName: unknownCountry}
	if pc.Number == "" {
		return pc
	}
	if isExtension(pc.Number) {
		pc.IsExtension = true
		return pc
	}

	if parsed, ok := parseValid(pc.Number, defaultRegion); ok {
		pc.CountryCode = int(parsed.GetCountryCode())
		if region := phonenumbers.GetRegionCodeForNumber(parsed); region != "" {
			pc.CountryName = region
		}
		return pc
	}
	if strings.HasPrefix(pc.Number, "0") {
		if parsed, ok := parseValid("+"+pc.Number[1:], ""); ok {
			pc.CountryCode = int(parsed.GetCountryCode())
			if region := phonenumbers.GetRegionCodeForNumber(parsed); region != "" {
				pc.CountryName = region
			}
		}
	}
	return pc
}

func parseValid(number, region string) (*phonenumbers.PhoneNumber, bool) {
	parsed, err := phonenumbers.Parse(number, region)
	if err != nil || !phonenumbers.IsValidNumber(parsed) {
		return nil, false
	}
	return parsed, true
}

func isExtension(s string) bool {
	if len(s) != 4 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
