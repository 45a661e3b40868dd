package published

import (
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

type layout struct {
	format string
	zone   bool
}

// machineLayouts cover feed, meta, JSON-LD and header values.
var machineLayouts = []layout{
	{time.RFC3339Nano, true},
	{time.RFC3339, true},
	{"2006-01-02T15:04:05Z0700", true},
	{"2006-01-02T15:04:05.000Z0700", true},
	{"2006-01-02T15:04:05", false},
	{"2006-01-02T15:04", false},
	{"2006-01-02 15:04:05 -0700", true},
	{"2006-01-02 15:04:05", false},
	{"2006-01-02", false},
	{time.RFC1123Z, true},
	{time.RFC1123, true},
	{"Mon, 2 Jan 2006 15:04:05 -0700", true},
	{"Mon, 2 Jan 2006 15:04:05 MST", true},
	{time.RFC822Z, true},
	{time.RFC822, true},
	{time.RFC850, true},
	{time.ANSIC, false},
	{"20060102", false},
}

// textLayouts is the fixed list visible "Published ..." labels are parsed against.
var textLayouts = []string{
	"Monday, January 2, 2006 3:04 PM",
	"Monday, January 2, 2006",
	"January 2, 2006 3:04 PM",
	"January 2, 2006 3:04PM",
	"Jan 2, 2006 3:04 PM",
	"Jan 2, 2006 3:04PM",
	"January 2, 2006",
	"Jan 2, 2006",
	"January 2 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
}

var zoneOffsets = map[string]int{
	"UTC": 0, "GMT": 0,
	"EST": -5, "EDT": -4, "ET": -5,
	"CST": -6, "CDT": -5, "CT": -6,
	"MST": -7, "MDT": -6, "MT": -7,
	"PST": -8, "PDT": -7, "PT": -8,
}

var zoneLocations = map[string]string{
	"ET": "America/New_York",
	"CT": "America/Chicago",
	"MT": "America/Denver",
	"PT": "America/Los_Angeles",
}

var (
	meridiemExpr  = regexp.MustCompile(`(?i)\b([ap])\.?m\.?(?:\s|$)`)
	trailZoneExpr = regexp.MustCompile(`\s+([A-Z]{2,3})$`)
	spaceExpr     = regexp.MustCompile(`\s+`)
)

// parseMachine parses a machine-oriented date string. The second result is a
// timezone label when the string carried one.
func parseMachine(raw string) (time.Time, string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, "", false
	}
	for _, l := range machineLayouts {
		t, err := time.Parse(l.format, raw)
		if err != nil {
			continue
		}
		if !l.zone {
			return t.UTC(), "", true
		}
		t = namedZone(t)
		return t.UTC(), zoneLabel(t), true
	}
	t, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil {
		return time.Time{}, "", false
	}
	t = namedZone(t)
	label := ""
	if name, off := t.Zone(); off != 0 || (name != "UTC" && name != "") {
		label = zoneLabel(t)
	}
	return t.UTC(), label, true
}

// namedZone fixes times whose zone abbreviation time.Parse did not know and
// therefore gave a zero offset.
func namedZone(t time.Time) time.Time {
	name, off := t.Zone()
	if off != 0 || name == "UTC" || name == "GMT" || name == "" {
		return t
	}
	if _, known := zoneOffsets[name]; !known {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), locationFor(name))
}

// parseText parses human-facing date text against the fixed layout list.
func parseText(raw string) (time.Time, string, bool) {
	s := normalizeText(raw)
	if s == "" {
		return time.Time{}, "", false
	}

	tz := ""
	if m := trailZoneExpr.FindStringSubmatch(s); m != nil {
		if _, known := zoneOffsets[m[1]]; known {
			tz = m[1]
			s = strings.TrimSpace(strings.TrimSuffix(s, m[0]))
		}
	}

	for _, format := range textLayouts {
		t, err := time.Parse(format, s)
		if err != nil {
			continue
		}
		if tz == "" {
			return t.UTC(), "", true
		}
		loc := locationFor(tz)
		local := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
		return local.UTC(), tz, true
	}
	return time.Time{}, "", false
}

func normalizeText(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimRight(s, ".,;|")
	s = strings.ReplaceAll(s, " at ", " ")
	s = strings.ReplaceAll(s, "Sept.", "Sep")
	s = strings.ReplaceAll(s, "Sept ", "Sep ")
	s = meridiemExpr.ReplaceAllStringFunc(s, func(m string) string {
		sub := meridiemExpr.FindStringSubmatch(m)
		suffix := ""
		if strings.HasSuffix(m, " ") {
			suffix = " "
		}
		return strings.ToUpper(sub[1]) + "M" + suffix
	})
	s = strings.ReplaceAll(s, ".", "")
	s = spaceExpr.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func locationFor(tz string) *time.Location {
	if name, ok := zoneLocations[tz]; ok {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return time.FixedZone(tz, zoneOffsets[tz]*3600)
}

func zoneLabel(t time.Time) string {
	name, off := t.Zone()
	switch {
	case name == "UTC" || (name == "" && off == 0):
		return "UTC"
	case name != "" && !strings.HasPrefix(name, "+") && !strings.HasPrefix(name, "-"):
		return name
	default:
		return t.Format("-07:00")
	}
}
