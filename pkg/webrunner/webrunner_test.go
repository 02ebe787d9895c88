package webrunner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/unlist-sh/unlist/pkg/broker"
	"github.com/unlist-sh/unlist/pkg/jobs"
	"github.com/unlist-sh/unlist/pkg/profile"
)

const searchPage = `<!DOCTYPE html>
<html><head><title>People Search</title></head>
<body>
  <div class="result">
    <span class="name">John A Doe</span>
    <span class="age">44</span>
    <span class="address">123 Main St, Dallas TX</span>
    <span class="address">9 Oak Ave, Plano TX</span>
    <span class="relative">Jane Doe</span>
    <a href="/profiles/1">view</a>
  </div>
  <div class="result">
    <span class="name">Johnny Doering</span>
    <span class="age">71</span>
    <a href="/profiles/2">view</a>
  </div>
  <div class="result">
    <span class="name">John Doe</span>
    <a href="/profiles/3">view</a>
  </div>
</body></html>`

func fixedNow() time.Time {
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}

func testQuery() profile.Query {
	return profile.Query{FirstName: "John", LastName: "Doe", City: "Dallas", State: "TX", BirthYear: 1980}
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c := New()
	c.HTTP.RetryMax = 0
	c.Now = fixedNow
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestLoadURLClassifiesStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte(searchPage))
		case "/gone":
			http.NotFound(w, r)
		case "/denied":
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer srv.Close()

	c := newTestClient(t)

	out, err := c.LoadURL(context.Background(), srv.URL+"/ok")
	if err != nil || out.Kind != jobs.OutcomeOK {
		t.Fatalf("ok load = %+v, %v", out, err)
	}
	if c.title != "People Search" {
		t.Errorf("title = %q", c.title)
	}

	out, err = c.LoadURL(context.Background(), srv.URL+"/gone")
	if err != nil || out.Kind != jobs.OutcomeResourceGone || out.StatusCode != 404 {
		t.Fatalf("gone load = %+v, %v", out, err)
	}

	out, err = c.LoadURL(context.Background(), srv.URL+"/denied")
	if err != nil || out.Kind != jobs.OutcomeAccessDenied {
		t.Fatalf("denied load = %+v, %v", out, err)
	}
}

func TestExtractKeepsMatchingCards(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(searchPage))
	}))
	defer srv.Close()

	c := newTestClient(t)
	if _, err := c.LoadURL(context.Background(), srv.URL+"/search"); err != nil {
		t.Fatal(err)
	}

	result, err := c.ExecuteAction(context.Background(),
		broker.Action{ID: "ext", Type: broker.ActionExtract, Selector: ".result"},
		jobs.ActionInput{Query: testQuery()})
	if err != nil {
		t.Fatalf("ExecuteAction() error: %v", err)
	}

	// "Johnny Doering" is age-excluded; the ageless "John Doe" is kept.
	if len(result.Extracted) != 2 {
		t.Fatalf("extracted = %+v, want 2 profiles", result.Extracted)
	}
	first := result.Extracted[0]
	if first.Name != "John A Doe" || first.Age != "44" {
		t.Errorf("first profile = %+v", first)
	}
	if len(first.Addresses) != 2 || first.Addresses[0] != "123 Main St, Dallas TX" {
		t.Errorf("addresses = %v", first.Addresses)
	}
	if len(first.Relatives) != 1 || first.Relatives[0] != "Jane Doe" {
		t.Errorf("relatives = %v", first.Relatives)
	}
	if first.ProfileURL != srv.URL+"/profiles/1" {
		t.Errorf("profile url = %q", first.ProfileURL)
	}
}

func TestExpectation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><div class="success">done</div></body></html>`))
	}))
	defer srv.Close()

	c := newTestClient(t)
	if _, err := c.LoadURL(context.Background(), srv.URL); err != nil {
		t.Fatal(err)
	}

	result, err := c.ExecuteAction(context.Background(),
		broker.Action{ID: "e1", Type: broker.ActionExpectation, Selector: ".success"}, jobs.ActionInput{})
	if err != nil || !result.ExpectationMet {
		t.Fatalf("present selector: %+v, %v", result, err)
	}

	result, err = c.ExecuteAction(context.Background(),
		broker.Action{ID: "e2", Type: broker.ActionExpectation, Selector: ".missing"}, jobs.ActionInput{})
	if err != nil || result.ExpectationMet {
		t.Fatalf("absent selector: %+v, %v", result, err)
	}
}

func TestClickFollowsHref(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Write([]byte(`<html><body><a id="next" href="/step2">next</a></body></html>`))
		case "/step2":
			w.Write([]byte(`<html><head><title>Step 2</title></head><body></body></html>`))
		}
	}))
	defer srv.Close()

	c := newTestClient(t)
	if _, err := c.LoadURL(context.Background(), srv.URL+"/"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.ExecuteAction(context.Background(),
		broker.Action{ID: "click", Type: broker.ActionClick, Selector: "#next"}, jobs.ActionInput{}); err != nil {
		t.Fatalf("click error: %v", err)
	}
	if c.title != "Step 2" {
		t.Errorf("click did not navigate, title = %q", c.title)
	}
}

func TestFillFormPostsMappedValues(t *testing.T) {
	var posted map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/optout":
			w.Write([]byte(`<html><body>
<form id="oo" action="/submit" method="post">
  <input name="fname" id="fn">
  <input name="contact_email" id="email">
</form></body></html>`))
		case "/submit":
			r.ParseForm()
			posted = r.PostForm
			w.Write([]byte(`<html><body><div class="success"></div></body></html>`))
		}
	}))
	defer srv.Close()

	c := newTestClient(t)
	if _, err := c.LoadURL(context.Background(), srv.URL+"/optout"); err != nil {
		t.Fatal(err)
	}

	action := broker.Action{ID: "form", Type: broker.ActionFillForm, Selector: "#oo", Elements: []broker.FormElement{
		{Type: "firstName", Selector: "#fn"},
		{Type: "email", Selector: "#email"},
	}}
	input := jobs.ActionInput{Query: testQuery(), Email: "gen@unlist.sh", CaptchaToken: "tok-1"}
	if _, err := c.ExecuteAction(context.Background(), action, input); err != nil {
		t.Fatalf("fillForm error: %v", err)
	}

	if got := posted["fname"]; len(got) != 1 || got[0] != "John" {
		t.Errorf("fname = %v", posted["fname"])
	}
	if got := posted["contact_email"]; len(got) != 1 || got[0] != "gen@unlist.sh" {
		t.Errorf("contact_email = %v", posted["contact_email"])
	}
	if got := posted["g-recaptcha-response"]; len(got) != 1 || got[0] != "tok-1" {
		t.Errorf("captcha token = %v", posted["g-recaptcha-response"])
	}
}

func TestCaptchaInfoFromPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><div class="g-recaptcha" data-sitekey="site-key-1"></div></body></html>`))
	}))
	defer srv.Close()

	c := newTestClient(t)
	if _, err := c.LoadURL(context.Background(), srv.URL+"/optout"); err != nil {
		t.Fatal(err)
	}

	result, err := c.ExecuteAction(context.Background(),
		broker.Action{ID: "ci", Type: broker.ActionGetCaptchaInfo, Selector: ".g-recaptcha"}, jobs.ActionInput{})
	if err != nil {
		t.Fatalf("getCaptchaInfo error: %v", err)
	}
	if result.CaptchaInfo == nil || result.CaptchaInfo.SiteKey != "site-key-1" {
		t.Fatalf("captcha info = %+v", result.CaptchaInfo)
	}
	if result.CaptchaInfo.Type != "recaptcha" {
		t.Errorf("captcha type = %q", result.CaptchaInfo.Type)
	}
	if result.CaptchaInfo.URL != srv.URL+"/optout" {
		t.Errorf("captcha page url = %q", result.CaptchaInfo.URL)
	}
}

func TestActionsRequireALoadedPage(t *testing.T) {
	c := newTestClient(t)
	_, err := c.ExecuteAction(context.Background(),
		broker.Action{ID: "ext", Type: broker.ActionExtract}, jobs.ActionInput{})
	if err == nil {
		t.Fatal("actions before any load should fail")
	}
}
