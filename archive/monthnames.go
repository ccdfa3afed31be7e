package archive

import (
	"fmt"
	"time"
)

// MonthNames maps calendar months to the localized names used in snapshot
// document paths and headers.
type MonthNames [12]string

var (
	FrenchMonths = MonthNames{
		"janvier", "fevrier", "mars", "avril", "mai", "juin",
		"juillet", "aout", "septembre", "octobre", "novembre", "decembre",
	}
	EnglishMonths = MonthNames{
		"january", "february", "march", "april", "may", "june",
		"july", "august", "september", "october", "november", "december",
	}
)

// MonthNamesFor returns the table for a locale ("fr" or "en").
func MonthNamesFor(locale string) (MonthNames, error) {
	switch locale {
	case "", "fr":
		return FrenchMonths, nil
	case "en":
		return EnglishMonths, nil
	default:
		return MonthNames{}, fmt.Errorf("no month names for locale %q", locale)
	}
}

func (m MonthNames) Name(month time.Month) string {
	if month < time.January || month > time.December {
		return ""
	}
	return m[month-1]
}
