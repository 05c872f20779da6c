// Package textutil cleans free-form text supplied by customers before it is stored or echoed
// into notifications.
package textutil

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// PlainText strips every HTML element from user supplied text and collapses whitespace.
func PlainText(value string) string {
	return strings.Join(strings.Fields(strictPolicy.Sanitize(value)), " ")
}
