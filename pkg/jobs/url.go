package jobs

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/unlist-sh/unlist/pkg/jobdata"
	"github.com/unlist-sh/unlist/pkg/profile"
)

// ExpandURL substitutes ${...} placeholders in a navigate action's URL
// template with query-escaped profile values. Unknown placeholders are left
// untouched so a broken template fails visibly on the broker site instead
// of silently collapsing to an empty path segment.
func ExpandURL(template string, q profile.Query, extracted *jobdata.ExtractedProfile, now time.Time) string {
	middle := ""
	if q.MiddleName != nil {
		middle = strings.TrimSpace(*q.MiddleName)
	}
	pairs := []string{
		"${firstName}", url.QueryEscape(q.FirstName),
		"${middleName}", url.QueryEscape(middle),
		"${lastName}", url.QueryEscape(q.LastName),
		"${fullName}", url.QueryEscape(q.FullName()),
		"${city}", url.QueryEscape(q.City),
		"${state}", url.QueryEscape(q.State),
		"${age}", strconv.Itoa(q.Age(now)),
	}
	if extracted != nil {
		pairs = append(pairs, "${profileUrl}", url.QueryEscape(extracted.ProfileURL))
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
