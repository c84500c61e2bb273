// Package domain models the JHU CSSE COVID-19 case-count data and the
// normalization applied to it.
//
// # Data Source
//
// All series come from the CSSE GitHub repository
// (https://github.com/CSSEGISandData/COVID-19), under csse_covid_19_data/.
// Two shapes are consumed:
//
//	csse_covid_19_time_series/time_series_covid19_<metric>_global.csv
//	  one row per country or province, one column per date (M/D/YY)
//
//	csse_covid_19_daily_reports/<MM-DD-YYYY>.csv
//	  one file per day, one row per reporting subdivision
//
// Both start on 2020-01-22 ([StartDate]). Counts are cumulative.
//
// # Daily Report Conventions
//
// The daily report schema drifted. Early files use "Province/State" and
// "Country/Region"; later files use "Province_State" and "Country_Region" and
// add FIPS, Admin2 and coordinates. Columns are therefore matched by name
// fragment, not position. Some files begin with a UTF-8 byte order mark.
//
// The US subdivision identifier changed encoding twice ([Era]):
//
//	2020-01-22 .. 2020-01-31  "Washington"            full state name
//	2020-02-01 .. 2020-03-09  "King County, WA"       county, 2-letter code
//	2020-03-10 ..             "Washington"            full state name
//
// During the county era the code after the last comma is resolved through the
// [StateDirectory]. Rows that do not resolve ("Diamond Princess",
// "Unassigned Location (From Diamond Princess)") are dropped.
//
// # Name Reconciliation
//
// The case-count feed and the boundary dataset name some countries
// differently ("Korea, South" vs "South Korea", "US" vs "United States of
// America"). [Reconcile] maps the known differences before joining. Countries
// that appear only on one side are dropped from the map, not zero-filled.
//
// # Color Buckets
//
// Map colors use [Palette], a 13-step ramp. Buckets are equal-width bins over
// the range of values present on the rendered date, recomputed per date. See
// [BucketIndex].
package domain
