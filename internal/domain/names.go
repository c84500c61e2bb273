package domain

import "fmt"

// countryNames maps case-count country names to boundary-dataset names where
// the two vocabularies differ.
var countryNames = map[string]string{
	"Bahamas":             "The Bahamas",
	"Burma":               "Myanmar",
	"Cabo Verde":          "Cape Verde",
	"Congo (Brazzaville)": "Republic of Congo",
	"Congo (Kinshasa)":    "Democratic Republic of the Congo",
	"Cote d'Ivoire":       "Ivory Coast",
	"Czechia":             "Czech Republic",
	"Eswatini":            "Swaziland",
	"Guinea-Bissau":       "Guinea Bissau",
	"Holy See":            "Vatican",
	"Korea, South":        "South Korea",
	"North Macedonia":     "Macedonia",
	"Serbia":              "Republic of Serbia",
	"Taiwan*":             "Taiwan",
	"Tanzania":            "United Republic of Tanzania",
	"Timor-Leste":         "East Timor",
	"US":                  "United States of America",
	"West Bank and Gaza":  "Palestine",
}

// Reconcile maps a case-count country name to its boundary name.
// Names not known to differ pass through unchanged.
func Reconcile(name string) string {
	if mapped, ok := countryNames[name]; ok {
		return mapped
	}
	return name
}

// Color is an RGB triple.
type Color struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// RGBA renders a CSS color string with the given opacity.
func (c Color) RGBA(alpha float64) string {
	return fmt.Sprintf("rgba(%d, %d, %d, %g)", c.R, c.G, c.B, alpha)
}

// Palette is the ordered low-to-high color ramp used for the map.
var Palette = []Color{
	{65, 182, 196},
	{127, 205, 187},
	{199, 233, 180},
	{237, 248, 177},
	{255, 255, 204},
	{255, 237, 160},
	{254, 217, 118},
	{254, 178, 76},
	{253, 141, 60},
	{252, 78, 42},
	{227, 26, 28},
	{189, 0, 38},
	{128, 0, 38},
}
