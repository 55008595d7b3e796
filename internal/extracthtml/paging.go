package extracthtml

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// RecordsPerPage is the portal's page size, used to turn a record count into
// a page count.
const RecordsPerPage = 50

var (
	reDigitGroups = regexp.MustCompile(`\d+`)
	rePageOf      = regexp.MustCompile(`(?i)page\s+\d+\s+of\s+(\d+)`)
	reRecords     = regexp.MustCompile(`(?i)([\d,]+)\s+records`)
)

// ReportedTotalPages reads the page count the site advertises, from
// "Page X of N" or, failing that, "N records" divided by RecordsPerPage and
// rounded up. ok is false when neither appears.
func ReportedTotalPages(html string) (pages int, ok bool) {
	if m := rePageOf.FindStringSubmatch(html); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n, true
		}
	}
	if m := reRecords.FindStringSubmatch(html); m != nil {
		n, ok, err := ParseCountAny(m[1])
		if err == nil && ok && n > 0 {
			return (n + RecordsPerPage - 1) / RecordsPerPage, true
		}
	}
	return 0, false
}

// PageURL returns base with the pageNo query parameter set, keeping any
// other query parameters.
func PageURL(base string, page int) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("pageNo", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ResolveHref resolves href against base, returning an absolute URL string.
// If href is invalid, it is returned unchanged.
func ResolveHref(base *url.URL, href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if base == nil {
		return u.String()
	}
	return base.ResolveReference(u).String()
}

// ParseCountAny extracts an integer count from v.
//
// It accepts inputs like "1,096" or "(1 096 ...)" by joining digit groups.
// It returns ok=false when v contains no digits.
func ParseCountAny(v any) (count int, ok bool, err error) {
	s, _ := v.(string)
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false, nil
	}

	parts := reDigitGroups.FindAllString(s, -1)
	if len(parts) == 0 {
		return 0, false, nil
	}

	n, convErr := strconv.Atoi(strings.Join(parts, ""))
	if convErr != nil {
		return 0, false, convErr
	}
	return n, true, nil
}
