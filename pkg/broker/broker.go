// Package broker defines the data-broker catalog: target sites, their
// ordered action scripts and their scheduling parameters. Definitions are
// read-only once loaded and safely shared between concurrently running jobs.
package broker

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/weppos/publicsuffix-go/publicsuffix"
)

// StepType tags an action script as a scan or an opt-out.
type StepType string

const (
	StepScan   StepType = "scan"
	StepOptOut StepType = "optOut"
)

// ScheduleConfig holds the per-broker timing parameters, in hours. These are
// the sole source of next-run computations; they are never overridden ad hoc.
type ScheduleConfig struct {
	RetryError            int `json:"retryError"`
	ConfirmOptOutScan     int `json:"confirmOptOutScan"`
	MaintenanceScan       int `json:"maintenanceScan"`
	MaxAttempts           int `json:"maxAttempts,omitempty"`           // 0 or -1 means unlimited
	EmailConfirmationWait int `json:"emailConfirmationWait,omitempty"` // 0 means no wait
}

// RetryErrorInterval returns the retry-after-error interval as a duration.
func (c ScheduleConfig) RetryErrorInterval() time.Duration {
	return time.Duration(c.RetryError) * time.Hour
}

// ConfirmOptOutScanInterval returns the confirmation-scan interval as a duration.
func (c ScheduleConfig) ConfirmOptOutScanInterval() time.Duration {
	return time.Duration(c.ConfirmOptOutScan) * time.Hour
}

// MaintenanceScanInterval returns the maintenance-scan interval as a duration.
func (c ScheduleConfig) MaintenanceScanInterval() time.Duration {
	return time.Duration(c.MaintenanceScan) * time.Hour
}

// MirrorSite is an alternate host serving the same broker's records. A mirror
// counts as active for a date when it was added on/before that date and not
// yet removed.
type MirrorSite struct {
	Name      string     `json:"name"`
	URL       string     `json:"url"`
	AddedAt   time.Time  `json:"addedAt"`
	RemovedAt *time.Time `json:"removedAt,omitempty"`
}

// ActiveAt reports whether the mirror was serving records at the given time.
func (m MirrorSite) ActiveAt(t time.Time) bool {
	if m.AddedAt.After(t) {
		return false
	}
	return m.RemovedAt == nil || m.RemovedAt.After(t)
}

// Broker is one named target site with its scan and opt-out scripts.
type Broker struct {
	ID          int64          `json:"-"`
	Name        string         `json:"name"`
	URL         string         `json:"url"`
	Version     string         `json:"version"`
	Parent      string         `json:"parent,omitempty"`
	OptOutURL   string         `json:"optOutUrl,omitempty"`
	Steps       []Step         `json:"steps"`
	Schedule    ScheduleConfig `json:"schedulingConfig"`
	MirrorSites []MirrorSite   `json:"mirrorSites,omitempty"`
}

// StepFor returns the broker's script for the given step type.
func (b Broker) StepFor(t StepType) (Step, error) {
	for _, s := range b.Steps {
		if s.Type == t {
			return s, nil
		}
	}
	return Step{}, fmt.Errorf("broker %s has no %s step", b.Name, t)
}

// OptOutURLIsParent reports whether opt-outs must be performed on a different
// (parent) domain: true iff the opt-out URL does not live under the broker's
// own registrable domain.
func (b Broker) OptOutURLIsParent() bool {
	if b.OptOutURL == "" {
		return false
	}
	own, ok := registrableDomain(b.URL)
	if !ok {
		return false
	}
	optOut, ok := registrableDomain(b.OptOutURL)
	if !ok {
		return false
	}
	return !strings.EqualFold(own, optOut)
}

// registrableDomain extracts the registrable domain from a URL or bare host.
// Scopes without a scheme are common in broker definitions ("a.com"), so one
// is prepended before parsing.
func registrableDomain(raw string) (string, bool) {
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "", false
	}
	domain, err := publicsuffix.Domain(u.Hostname())
	if err != nil {
		return "", false
	}
	return domain, true
}
