package broker

// ActionType enumerates the fixed action vocabulary broker scripts are
// written in. Anything richer belongs in a new action type, not in ad-hoc
// parameters on an existing one.
type ActionType string

const (
	ActionNavigate          ActionType = "navigate"
	ActionClick             ActionType = "click"
	ActionExtract           ActionType = "extract"
	ActionExpectation       ActionType = "expectation"
	ActionFillForm          ActionType = "fillForm"
	ActionGetCaptchaInfo    ActionType = "getCaptchaInfo"
	ActionSolveCaptcha      ActionType = "solveCaptcha"
	ActionEmailConfirmation ActionType = "emailConfirmation"
)

// FormElement maps a profile field onto a form input selector.
type FormElement struct {
	Type     string `json:"type"` // firstName, lastName, city, state, email, ...
	Selector string `json:"selector"`
}

// Action is one instruction in a broker step script.
type Action struct {
	ID          string        `json:"id"`
	Type        ActionType    `json:"actionType"`
	URL         string        `json:"url,omitempty"`      // navigate: may contain ${firstName} style placeholders
	Selector    string        `json:"selector,omitempty"` // click, extract, expectation, fillForm
	Elements    []FormElement `json:"elements,omitempty"` // fillForm
	PollingTime int           `json:"pollingTime,omitempty"` // emailConfirmation: seconds between inbox polls
}

// NeedsEmail reports whether executing the action requires a generated
// email address for the extracted profile.
func (a Action) NeedsEmail() bool {
	if a.Type != ActionFillForm {
		return false
	}
	for _, e := range a.Elements {
		if e.Type == "email" {
			return true
		}
	}
	return false
}

// Step is one ordered action script, tagged scan or optOut.
type Step struct {
	Type    StepType `json:"stepType"`
	Actions []Action `json:"actions"`
}
