package extracthtml

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// LoginSucceeded inspects the page shown after a login attempt.
//
// A visible password input means the login form came back, which is a
// failure. When markers are given, the lowercased page must also contain the
// username or one of the markers.
func LoginSucceeded(html, username string, markers []string) bool {
	doc, err := ParseHTML(html)
	if err != nil {
		return false
	}
	if doc.Find(`input[type="password"], input[type=password]`).Length() > 0 {
		return false
	}
	if len(markers) == 0 {
		return true
	}
	page := strings.ToLower(html)
	if u := strings.ToLower(strings.TrimSpace(username)); u != "" && strings.Contains(page, u) {
		return true
	}
	for _, m := range markers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" && strings.Contains(page, m) {
			return true
		}
	}
	return false
}

// LoginForm is the login <form> found on a page.
type LoginForm struct {
	Action string
	Hidden url.Values
}

// FindLoginForm locates the form holding a password input and collects its
// hidden inputs (CSRF tokens and the like). Action is resolved against base;
// it is empty when the form has no action attribute.
func FindLoginForm(html string, base *url.URL) (LoginForm, bool) {
	doc, err := ParseHTML(html)
	if err != nil {
		return LoginForm{}, false
	}
	form := doc.Find("form").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.Find(`input[type="password"]`).Length() > 0
	}).First()
	if form.Length() == 0 {
		return LoginForm{}, false
	}

	lf := LoginForm{Hidden: url.Values{}}
	if action, ok := form.Attr("action"); ok && strings.TrimSpace(action) != "" {
		lf.Action = ResolveHref(base, strings.TrimSpace(action))
	}
	form.Find(`input[type="hidden"]`).Each(func(_ int, in *goquery.Selection) {
		name, ok := in.Attr("name")
		if !ok || name == "" {
			return
		}
		v, _ := in.Attr("value")
		lf.Hidden.Set(name, v)
	})
	return lf, true
}

// IsLoginURL reports whether u looks like a login/sign-in page, which is
// where the portal redirects expired sessions.
func IsLoginURL(u string) bool {
	l := strings.ToLower(u)
	return strings.Contains(l, "login") || strings.Contains(l, "signin")
}
