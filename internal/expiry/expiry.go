// Package expiry locates an expiration-like date inside raw recognized text.
//
// The extractor is a pure heuristic: it scans for expiration keywords,
// inspects a fixed window after each occurrence, and tries a small set of
// date patterns in priority order. It never touches the network, so the
// keyword list, window size, and pattern priority can be tuned and tested
// against raw text fixtures alone.
package expiry

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Match is the normalized result of a successful extraction.
type Match struct {
	// RawText is the substring that matched, as it appeared in the input.
	RawText string
	// ISODate is the normalized YYYY-MM-DD form.
	ISODate string
}

// keywords are checked in order; the first keyword whose window yields an
// accepted date wins. "exp" is last because it is a prefix of the others.
var keywords = []string{
	"expiration date",
	"expiry date",
	"expiration",
	"expiry",
	"expires",
	"valid until",
	"valid thru",
	"valid through",
	"good through",
	"exp",
}

// windowSize is how many characters after a keyword are searched for a date.
const windowSize = 100

// Date patterns in priority order.
var (
	// 2026-03-15 or 2026/03/15
	isoPattern = regexp.MustCompile(`(\d{4})[-/](\d{1,2})[-/](\d{1,2})`)
	// 03/15/2026, 03-15-2026, 03.15.2026
	usPattern = regexp.MustCompile(`(\d{1,2})[-/.](\d{1,2})[-/.](\d{4})`)
	// 03/26 (month/2-digit year)
	shortPattern = regexp.MustCompile(`(\d{1,2})/(\d{2})\b`)
)

// Extract scans text for an expiration-like date and returns it normalized
// to YYYY-MM-DD. The now parameter anchors the future-date check for
// calendar-style matches. Returns false when no plausible date is found.
func Extract(text string, now time.Time) (Match, bool) {
	lower := strings.ToLower(text)

	for _, kw := range keywords {
		from := 0
		for {
			idx := strings.Index(lower[from:], kw)
			if idx < 0 {
				break
			}
			start := from + idx + len(kw)
			end := start + windowSize
			if end > len(lower) {
				end = len(lower)
			}
			// Dates are digits and separators, so the lowered copy is safe
			// to match against. Offsets from the lowered copy must never be
			// applied to the original: ToLower can change byte lengths.
			window := lower[start:end]

			if m, ok := matchWindow(window, now); ok {
				return m, true
			}
			from = start
		}
	}
	return Match{}, false
}

// matchWindow tries each pattern against a keyword window in priority order.
func matchWindow(window string, now time.Time) (Match, bool) {
	if loc := isoPattern.FindStringSubmatch(window); loc != nil {
		year, _ := strconv.Atoi(loc[1])
		month, _ := strconv.Atoi(loc[2])
		day, _ := strconv.Atoi(loc[3])
		if validCalendarDate(year, month, day) {
			return Match{
				RawText: loc[0],
				ISODate: fmt.Sprintf("%04d-%02d-%02d", year, month, day),
			}, true
		}
	}

	if loc := usPattern.FindStringSubmatch(window); loc != nil {
		month, _ := strconv.Atoi(loc[1])
		day, _ := strconv.Atoi(loc[2])
		year, _ := strconv.Atoi(loc[3])
		if validCalendarDate(year, month, day) {
			// Past dates near expiration keywords are usually issue or
			// effective dates on these documents, not the expiration.
			d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
			if d.After(now) {
				return Match{
					RawText: loc[0],
					ISODate: fmt.Sprintf("%04d-%02d-%02d", year, month, day),
				}, true
			}
		}
	}

	for _, idx := range shortPattern.FindAllStringSubmatchIndex(window, -1) {
		// A match that continues with another separator and digits is the
		// front of a full calendar date, not a bare MM/YY.
		if end := idx[1]; end < len(window) && strings.ContainsRune("/-.", rune(window[end])) {
			continue
		}
		raw := window[idx[0]:idx[1]]
		month := mustAtoi(window[idx[2]:idx[3]])
		if month < 1 || month > 12 {
			continue
		}
		// Two-digit years expand into this century; MM/YY means the
		// card or document is good through the end of that month.
		year := 2000 + mustAtoi(window[idx[4]:idx[5]])
		last := lastDayOfMonth(year, time.Month(month))
		return Match{
			RawText: raw,
			ISODate: fmt.Sprintf("%04d-%02d-%02d", year, month, last),
		}, true
	}

	return Match{}, false
}

func validCalendarDate(year, month, day int) bool {
	if year < 1000 || month < 1 || month > 12 || day < 1 {
		return false
	}
	return day <= lastDayOfMonth(year, time.Month(month))
}

func lastDayOfMonth(year int, month time.Month) int {
	// First day of the next month, minus one day.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func mustAtoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
