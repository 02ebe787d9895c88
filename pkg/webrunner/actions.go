package webrunner

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/unlist-sh/unlist/pkg/broker"
	"github.com/unlist-sh/unlist/pkg/jobdata"
	"github.com/unlist-sh/unlist/pkg/jobs"
	"github.com/unlist-sh/unlist/pkg/profile"
)

// Result-card sub-selectors the extract action reads within each match.
const (
	nameSelector     = ".name"
	ageSelector      = ".age"
	addressSelector  = ".address"
	relativeSelector = ".relative"
)

// ExecuteAction runs one script action against the current page.
func (c *Client) ExecuteAction(ctx context.Context, action broker.Action, input jobs.ActionInput) (jobs.ActionResult, error) {
	result := jobs.ActionResult{ActionID: action.ID}
	if c.current == nil {
		return result, &jobs.ActionError{ActionID: action.ID, Message: "no page loaded"}
	}

	switch action.Type {
	case broker.ActionExtract:
		result.Extracted = c.extract(action, input.Query)
		return result, nil

	case broker.ActionExpectation:
		result.ExpectationMet = c.current.Find(action.Selector).Length() > 0
		return result, nil

	case broker.ActionClick:
		return result, c.click(ctx, action)

	case broker.ActionFillForm:
		return result, c.fillForm(ctx, action, input)

	case broker.ActionGetCaptchaInfo:
		result.CaptchaInfo = c.captchaInfo(action)
		return result, nil

	case broker.ActionSolveCaptcha:
		// The solved token travels in the input of the submit that follows;
		// nothing happens on the page itself.
		return result, nil

	default:
		return result, &jobs.ActionError{ActionID: action.ID, Message: fmt.Sprintf("unsupported action type %q", action.Type)}
	}
}

// extract reads every result card matching the action selector and keeps
// the ones that plausibly belong to the profile query.
func (c *Client) extract(action broker.Action, q profile.Query) []jobdata.ExtractedProfile {
	selector := action.Selector
	if selector == "" {
		selector = ".result"
	}

	var out []jobdata.ExtractedProfile
	c.current.Find(selector).Each(func(_ int, card *goquery.Selection) {
		name := strings.TrimSpace(card.Find(nameSelector).First().Text())
		if name == "" {
			return
		}
		age := strings.TrimSpace(card.Find(ageSelector).First().Text())
		if !c.matchesQuery(q, name, age) {
			return
		}

		p := jobdata.ExtractedProfile{
			Name:      name,
			Age:       age,
			Addresses: texts(card, addressSelector),
			Relatives: texts(card, relativeSelector),
		}
		if href, ok := card.Find("a[href]").First().Attr("href"); ok {
			if resolved, err := c.resolve(href); err == nil {
				p.ProfileURL = resolved
			}
		}
		out = append(out, p)
	})
	return out
}

// matchesQuery keeps a card when its name contains both query names and its
// age, if listed, matches the query's. Broker listings routinely add middle
// initials and suffixes, so containment beats equality here.
func (c *Client) matchesQuery(q profile.Query, name, age string) bool {
	lower := strings.ToLower(name)
	if !strings.Contains(lower, strings.ToLower(q.FirstName)) ||
		!strings.Contains(lower, strings.ToLower(q.LastName)) {
		return false
	}
	if age == "" {
		return true
	}
	n, err := strconv.Atoi(age)
	if err != nil {
		return true
	}
	want := q.Age(c.now())
	// Birth-year arithmetic is off by one around the birthday.
	return n >= want-1 && n <= want+1
}

func texts(s *goquery.Selection, selector string) []string {
	var out []string
	s.Find(selector).Each(func(_ int, el *goquery.Selection) {
		if t := strings.TrimSpace(el.Text()); t != "" {
			out = append(out, t)
		}
	})
	return out
}

// click follows the first matching anchor's href. A matching element with
// no href is treated as satisfied: there is nothing to follow over HTTP.
func (c *Client) click(ctx context.Context, action broker.Action) error {
	el := c.current.Find(action.Selector).First()
	if el.Length() == 0 {
		return &jobs.ActionError{ActionID: action.ID, Message: fmt.Sprintf("no element matches %q", action.Selector)}
	}
	href, ok := el.Attr("href")
	if !ok || href == "" {
		return nil
	}
	target, err := c.resolve(href)
	if err != nil {
		return err
	}
	outcome, err := c.LoadURL(ctx, target)
	if err != nil {
		return err
	}
	if outcome.Kind != jobs.OutcomeOK {
		return &jobs.HTTPError{StatusCode: outcome.StatusCode, URL: target}
	}
	return nil
}

// fillForm submits the form matching the action selector with the mapped
// profile values. The generated email and a solved captcha token ride along
// when present.
func (c *Client) fillForm(ctx context.Context, action broker.Action, input jobs.ActionInput) error {
	selector := action.Selector
	if selector == "" {
		selector = "form"
	}
	form := c.current.Find(selector).First()
	if form.Length() == 0 {
		return &jobs.ActionError{ActionID: action.ID, Message: fmt.Sprintf("no form matches %q", selector)}
	}
	if !form.Is("form") {
		if nested := form.Find("form").First(); nested.Length() > 0 {
			form = nested
		}
	}

	values := url.Values{}
	for _, el := range action.Elements {
		name := fieldName(form, el)
		if name == "" {
			return &jobs.ActionError{ActionID: action.ID, Message: fmt.Sprintf("form field %q has no input name", el.Type)}
		}
		values.Set(name, fieldValue(el.Type, input, c.now()))
	}
	if input.CaptchaToken != "" {
		values.Set("g-recaptcha-response", input.CaptchaToken)
	}

	target := ""
	if a, ok := form.Attr("action"); ok {
		target = a
	}
	resolved, err := c.resolve(target)
	if err != nil {
		return err
	}
	method := http.MethodPost
	if m, ok := form.Attr("method"); ok && strings.EqualFold(m, "get") {
		method = http.MethodGet
	}

	var outcome jobs.PageOutcome
	if method == http.MethodGet {
		u, err := url.Parse(resolved)
		if err != nil {
			return err
		}
		u.RawQuery = values.Encode()
		outcome, err = c.LoadURL(ctx, u.String())
		if err != nil {
			return err
		}
	} else {
		outcome, err = c.request(ctx, method, resolved, "application/x-www-form-urlencoded", strings.NewReader(values.Encode()))
		if err != nil {
			return err
		}
	}
	if outcome.Kind != jobs.OutcomeOK {
		return &jobs.HTTPError{StatusCode: outcome.StatusCode, URL: resolved}
	}
	return nil
}

// fieldName resolves the input's name attribute through the element
// selector, falling back to the field type.
func fieldName(form *goquery.Selection, el broker.FormElement) string {
	if el.Selector != "" {
		if name, ok := form.Find(el.Selector).First().Attr("name"); ok && name != "" {
			return name
		}
	}
	return el.Type
}

func fieldValue(fieldType string, input jobs.ActionInput, now time.Time) string {
	q := input.Query
	switch fieldType {
	case "firstName":
		return q.FirstName
	case "middleName":
		if q.MiddleName != nil {
			return strings.TrimSpace(*q.MiddleName)
		}
		return ""
	case "lastName":
		return q.LastName
	case "fullName":
		return q.FullName()
	case "city":
		return q.City
	case "state":
		return q.State
	case "birthYear":
		return strconv.Itoa(q.BirthYear)
	case "age":
		return strconv.Itoa(q.Age(now))
	case "email":
		return input.Email
	case "profileUrl":
		if input.ExtractedProfile != nil {
			return input.ExtractedProfile.ProfileURL
		}
		return ""
	default:
		return ""
	}
}

// captchaInfo reads the challenge descriptor off the page, nil when the
// expected widget is absent.
func (c *Client) captchaInfo(action broker.Action) *jobs.CaptchaInfo {
	selector := action.Selector
	if selector == "" {
		selector = "[data-sitekey]"
	}
	el := c.current.Find(selector).First()
	if el.Length() == 0 {
		return nil
	}
	siteKey, ok := el.Attr("data-sitekey")
	if !ok || siteKey == "" {
		return nil
	}
	captchaType := "recaptcha"
	if t, ok := el.Attr("data-captcha-type"); ok && t != "" {
		captchaType = t
	}
	pageURL := ""
	if c.currentURL != nil {
		pageURL = c.currentURL.String()
	}
	return &jobs.CaptchaInfo{SiteKey: siteKey, URL: pageURL, Type: captchaType}
}
