package extract

import (
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	compactNumber = regexp.MustCompile(`^(\d+(?:[.,]\d+)*)\s*([kKmM]?)$`)
	othersSuffix  = regexp.MustCompile(`(?i)(?:,\s*|\s+)and\s+(\d+(?:[.,]\d+)*\s*[km]?)\s+others?\s*$`)
	trailingDigit = regexp.MustCompile(`(\d+)\D*$`)
)

// ParseReactionCount reads a reaction summary. Plain counts may carry a K or
// M suffix ("1.2K"); name lists count each name plus the "and N others"
// tail ("Ann, Bob and 3 others" is 5). Unparseable text counts as zero.
func ParseReactionCount(text string) int {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return 0
	}
	if n, ok := parseCompactNumber(text); ok {
		return n
	}

	others := 0
	if loc := othersSuffix.FindStringSubmatchIndex(text); loc != nil {
		others, _ = parseCompactNumber(strings.ReplaceAll(text[loc[2]:loc[3]], " ", ""))
		text = text[:loc[0]]
	}
	names := 0
	for _, part := range strings.Split(strings.ReplaceAll(text, " and ", ","), ",") {
		if strings.TrimSpace(part) != "" {
			names++
		}
	}
	return names + others
}

func parseCompactNumber(text string) (int, bool) {
	m := compactNumber.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return 0, false
	}
	digits, suffix := m[1], strings.ToLower(m[2])
	if suffix == "" {
		n, err := strconv.Atoi(strings.NewReplacer(",", "", ".", "").Replace(digits))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(digits, ",", "."), 64)
	if err != nil {
		return 0, false
	}
	mult := 1_000.0
	if suffix == "m" {
		mult = 1_000_000
	}
	return int(math.Round(f * mult)), true
}

// ThreadIDFromURL returns the numeric thread id in links such as
// /threads/some-title.12345/ or /threads/12345/, or 0.
func ThreadIDFromURL(raw string) int64 {
	u, err := url.Parse(raw)
	if err != nil {
		return 0
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, seg := range segments {
		if seg != "threads" || i+1 >= len(segments) {
			continue
		}
		slug := segments[i+1]
		if dot := strings.LastIndex(slug, "."); dot >= 0 {
			slug = slug[dot+1:]
		}
		id, err := strconv.ParseInt(slug, 10, 64)
		if err != nil {
			return 0
		}
		return id
	}
	return 0
}

// trailingID returns the last run of digits in values like "post-123" or
// "js-post-123", or 0.
func trailingID(raw string) int64 {
	m := trailingDigit.FindStringSubmatch(raw)
	if m == nil {
		return 0
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0
	}
	return id
}
