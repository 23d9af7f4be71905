// Package sanitize cleans user-supplied text before it is stored. Report
// fields come from anonymous members of the public and are reduced to
// plain text; study descriptions written by researchers keep basic
// formatting.
package sanitize

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strict     *bluemonday.Policy
	ugc        *bluemonday.Policy
	policyOnce sync.Once
)

func policies() (*bluemonday.Policy, *bluemonday.Policy) {
	policyOnce.Do(func() {
		strict = bluemonday.StrictPolicy()

		ugc = bluemonday.UGCPolicy()
		ugc.AllowElements("table", "thead", "tbody", "tr", "td", "th")
		ugc.RequireNoFollowOnLinks(true)
	})
	return strict, ugc
}

// Text strips every tag from input and returns plain text. Entities are
// decoded so the templating layer escapes the value exactly once.
func Text(input string) string {
	if input == "" {
		return ""
	}
	s, _ := policies()
	return strings.TrimSpace(html.UnescapeString(s.Sanitize(input)))
}

// HTML removes scripts, event handlers and javascript: URLs while keeping
// safe formatting. The result may be rendered unescaped.
func HTML(input string) string {
	if input == "" {
		return ""
	}
	_, u := policies()
	return u.Sanitize(input)
}
