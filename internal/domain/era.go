package domain

import (
	"fmt"
	"strings"
	"time"
)

// Era classifies how a daily snapshot encodes its subdivision identifier.
type Era int

const (
	// EraFullNameEarly covers StartDate through 2020-01-31: full state names.
	EraFullNameEarly Era = iota
	// EraCountyAbbrev covers 2020-02-01 through 2020-03-09: "County, XX".
	EraCountyAbbrev
	// EraFullNameLate covers 2020-03-10 onward: full state names again.
	EraFullNameLate
)

var (
	countyAbbrevAfter  = time.Date(2020, time.January, 31, 0, 0, 0, 0, time.UTC)
	countyAbbrevBefore = time.Date(2020, time.March, 10, 0, 0, 0, 0, time.UTC)
)

func (e Era) String() string {
	switch e {
	case EraFullNameEarly:
		return "full_name_early"
	case EraCountyAbbrev:
		return "county_abbrev"
	case EraFullNameLate:
		return "full_name_late"
	default:
		return fmt.Sprintf("era(%d)", int(e))
	}
}

// ClassifyEra returns the identifier encoding in effect on day.
// The boundaries are fixed historical constants.
func ClassifyEra(day time.Time) Era {
	day = Day(day)
	switch {
	case day.After(countyAbbrevAfter) && day.Before(countyAbbrevBefore):
		return EraCountyAbbrev
	case day.After(countyAbbrevAfter):
		return EraFullNameLate
	default:
		return EraFullNameEarly
	}
}

// IdentifierParser turns a raw province cell into a full state name.
// It returns ErrUnmappedIdentifier when the cell cannot be resolved.
type IdentifierParser func(raw string) (string, error)

// Parser returns the identifier strategy for the era.
func (e Era) Parser(states *StateDirectory) IdentifierParser {
	if e == EraCountyAbbrev {
		return countyAbbrevParser(states)
	}
	return fullNameParser
}

func fullNameParser(raw string) (string, error) {
	return strings.TrimSpace(raw), nil
}

// countyAbbrevParser resolves "Autauga, AL" to "Alabama". The state code is
// whatever follows the last comma, stripped of all spaces and periods so that
// forms like "Orange County, C.A." still resolve.
func countyAbbrevParser(states *StateDirectory) IdentifierParser {
	return func(raw string) (string, error) {
		code := raw
		if i := strings.LastIndex(raw, ","); i >= 0 {
			code = raw[i+1:]
		}
		code = strings.NewReplacer(" ", "", ".", "").Replace(code)
		name, ok := states.FullName(code)
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrUnmappedIdentifier, raw)
		}
		return name, nil
	}
}
