// Package registry holds the pure parameter registries used to validate
// schedule parameters before an acquisition run.
package registry

import "strings"

// countries maps ISO-ish lowercase codes to display names. "gb" is a
// legacy alias accepted on input and canonicalized to "uk".
var countries = map[string]string{
	"al": "Albania", "ad": "Andorra", "at": "Austria", "by": "Belarus", "be": "Belgium",
	"ba": "Bosnia and Herzegovina", "bg": "Bulgaria", "hr": "Croatia", "cy": "Cyprus",
	"cz": "Czech Republic", "dk": "Denmark", "ee": "Estonia", "fi": "Finland", "fr": "France",
	"de": "Germany", "gr": "Greece", "hu": "Hungary", "is": "Iceland", "ie": "Ireland",
	"it": "Italy", "xk": "Kosovo", "lv": "Latvia", "li": "Liechtenstein", "lt": "Lithuania",
	"lu": "Luxembourg", "mt": "Malta", "md": "Moldova", "mc": "Monaco", "me": "Montenegro",
	"nl": "Netherlands", "mk": "North Macedonia", "no": "Norway", "pl": "Poland", "pt": "Portugal",
	"ro": "Romania", "ru": "Russia", "sm": "San Marino", "rs": "Serbia", "sk": "Slovakia",
	"si": "Slovenia", "es": "Spain", "se": "Sweden", "ch": "Switzerland", "tr": "Turkey",
	"ua": "Ukraine", "uk": "United Kingdom", "gb": "United Kingdom",
}

var languages = map[string]struct{}{
	"en": {}, "pt": {}, "es": {}, "fr": {}, "de": {}, "it": {}, "ru": {}, "pl": {}, "uk": {},
}

// NormalizeCountry validates a country code and returns its canonical
// form. The legacy alias "gb" normalizes to "uk". ok is false for
// unknown codes.
func NormalizeCountry(code string) (string, bool) {
	c := strings.ToLower(strings.TrimSpace(code))
	if _, found := countries[c]; !found {
		return "", false
	}
	if c == "gb" {
		return "uk", true
	}
	return c, true
}

// CountryName returns the display name for a supported code.
func CountryName(code string) (string, bool) {
	name, ok := countries[strings.ToLower(strings.TrimSpace(code))]
	return name, ok
}

// SupportedLanguage reports whether the report language is available.
func SupportedLanguage(lang string) bool {
	_, ok := languages[strings.ToLower(strings.TrimSpace(lang))]
	return ok
}

// ValidDepth reports whether depth is one of the accepted analysis modes.
func ValidDepth(depth string) bool {
	switch depth {
	case "fast", "standard", "extended":
		return true
	}
	return false
}

// ValidHorizon reports whether the time horizon is accepted.
func ValidHorizon(horizon string) bool {
	switch horizon {
	case "24h", "3d", "7d":
		return true
	}
	return false
}
