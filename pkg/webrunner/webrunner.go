// Package webrunner is the HTTP automation handle jobs drive: it loads
// broker pages, keeps the current document parsed, and executes the action
// vocabulary against it with CSS selectors.
package webrunner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"golang.org/x/net/html"

	"github.com/unlist-sh/unlist/pkg/jobs"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/115.0"

// Client implements jobs.Runner over plain HTTP. One Client serves one job
// run at a time; the scheduler hands every job a fresh instance.
type Client struct {
	HTTP      *retryablehttp.Client
	UserAgent string
	Log       jobs.Logger
	Now       func() time.Time

	current    *goquery.Document
	currentURL *url.URL
	title      string
}

// New returns a Client with sane retry defaults. Transient transport and
// 5xx failures are retried; 4xx statuses pass through untouched so the
// outcome policy can see them.
func New() *Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 1 * time.Second
	c.RetryWaitMax = 10 * time.Second
	c.Logger = nil
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return &Client{HTTP: c}
}

func (c *Client) log() jobs.Logger {
	if c.Log != nil {
		return c.Log
	}
	return jobs.NopLogger()
}

func (c *Client) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Initialize resets page state and gives the session a fresh cookie jar.
func (c *Client) Initialize(ctx context.Context) error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	c.HTTP.HTTPClient.Jar = jar
	c.current = nil
	c.currentURL = nil
	c.title = ""
	return nil
}

// LoadURL fetches the page and, on success, parses it as the new current
// document. Non-success statuses are classified and returned without a
// document change.
func (c *Client) LoadURL(ctx context.Context, target string) (jobs.PageOutcome, error) {
	return c.request(ctx, http.MethodGet, target, "", nil)
}

// Finish tears the session down.
func (c *Client) Finish() error {
	if c.HTTP != nil && c.HTTP.HTTPClient != nil {
		c.HTTP.HTTPClient.CloseIdleConnections()
	}
	return nil
}

func (c *Client) request(ctx context.Context, method, target, contentType string, body io.Reader) (jobs.PageOutcome, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return jobs.PageOutcome{}, err
	}
	ua := c.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept-Language", "en")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return jobs.PageOutcome{}, err
	}
	defer resp.Body.Close()

	outcome := jobs.OutcomeForStatus(resp.StatusCode)
	if outcome.Kind != jobs.OutcomeOK {
		io.Copy(io.Discard, resp.Body)
		return outcome, nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return jobs.PageOutcome{}, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(raw)))
	if err != nil {
		return jobs.PageOutcome{}, err
	}

	c.current = doc
	c.currentURL = resp.Request.URL
	c.title = pageTitle(string(raw))
	c.log().Debugf("loaded %s (%d) %q", resp.Request.URL, resp.StatusCode, c.title)
	return outcome, nil
}

// resolve turns a page-relative reference into an absolute URL against the
// current page.
func (c *Client) resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if c.currentURL == nil {
		if !u.IsAbs() {
			return "", fmt.Errorf("relative reference %q with no page loaded", ref)
		}
		return ref, nil
	}
	return c.currentURL.ResolveReference(u).String(), nil
}

func isTitleElement(n *html.Node) bool {
	return n.Type == html.ElementNode && n.Data == "title"
}

func traverse(n *html.Node) (string, bool) {
	if isTitleElement(n) {
		if n.FirstChild != nil {
			return n.FirstChild.Data, true
		}
		return "", true
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if result, ok := traverse(child); ok {
			return result, ok
		}
	}
	return "", false
}

func pageTitle(body string) string {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return ""
	}
	title, _ := traverse(doc)
	return strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(title, "\n", ""), "\r", ""))
}
