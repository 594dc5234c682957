package useragent

import (
	"cmp"
	"strings"

	"github.com/mssola/useragent"
)

// Describe turns a User-Agent header into a short label such as
// "Firefox on Linux x86_64". Empty input gives "".
func Describe(ua string) string {
	if strings.TrimSpace(ua) == "" {
		return ""
	}

	parsed := useragent.New(ua)
	browser, _ := parsed.Browser()
	if parsed.Bot() {
		return cmp.Or(browser, "Unknown") + " (bot)"
	}

	return cmp.Or(browser, "Unknown Browser") + " on " + cmp.Or(parsed.OS(), "Unknown OS")
}
