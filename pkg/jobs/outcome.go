package jobs

// Kind distinguishes the two job flavors. The outcome policy below is the
// only place where they diverge on page-load failures.
type Kind string

const (
	KindScan   Kind = "scan"
	KindOptOut Kind = "optOut"
)

// OutcomeKind classifies a page load result.
type OutcomeKind int

const (
	// OutcomeOK is any 2xx or 3xx response.
	OutcomeOK OutcomeKind = iota
	// OutcomeResourceGone is a 404: the listing or endpoint no longer exists.
	OutcomeResourceGone
	// OutcomeAccessDenied is a 403: the broker is refusing us.
	OutcomeAccessDenied
	// OutcomeOther is every remaining non-success status.
	OutcomeOther
)

// PageOutcome is the classified result of one page load.
type PageOutcome struct {
	Kind       OutcomeKind
	StatusCode int
}

// OutcomeForStatus maps an HTTP status code onto an outcome.
func OutcomeForStatus(code int) PageOutcome {
	out := PageOutcome{StatusCode: code}
	switch {
	case code >= 200 && code < 400:
		out.Kind = OutcomeOK
	case code == 404:
		out.Kind = OutcomeResourceGone
	case code == 403:
		out.Kind = OutcomeAccessDenied
	default:
		out.Kind = OutcomeOther
	}
	return out
}

// Decision is what a job does with a page-load outcome.
type Decision int

const (
	DecisionContinue Decision = iota
	DecisionStop
)

// DecideOnLoad applies the per-kind outcome policy. A vanished page means
// the record is gone, which a scan treats as useful signal and keeps going,
// while an opt-out cannot proceed without its form. A 403 stops both kinds:
// retrying against an actively refusing broker only worsens the blocking.
func DecideOnLoad(kind Kind, outcome PageOutcome) Decision {
	switch outcome.Kind {
	case OutcomeOK:
		return DecisionContinue
	case OutcomeResourceGone:
		if kind == KindScan {
			return DecisionContinue
		}
		return DecisionStop
	default:
		return DecisionStop
	}
}
