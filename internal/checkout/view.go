package checkout

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Stage is the coarse presentation state of the pay button.
type Stage string

const (
	StageIdle       Stage = "idle"
	StageLoading    Stage = "loading"
	StageProcessing Stage = "processing"
	StageDisabled   Stage = "disabled"
)

const (
	labelPlaceOrder = "Place order"
	labelLoading    = "Loading..."
	labelProcessing = "Processing..."
)

// View is what the storefront renders for the pay button.
type View struct {
	Stage        Stage  `json:"stage"`
	Label        string `json:"label"`
	Disabled     bool   `json:"disabled"`
	Error        string `json:"error,omitempty"`
	Amount       string `json:"amount,omitempty"`
	Currency     string `json:"currency,omitempty"`
	RedirectURL  string `json:"redirectUrl,omitempty"`
	State        State  `json:"state"`
	InvocationID string `json:"invocationId,omitempty"`
}

// View derives the presentation from the controller and loader state.
func (c *Controller) View() View {
	snap := c.Snapshot()
	script := c.loader.Status()

	v := View{
		State:        snap.State,
		RedirectURL:  snap.RedirectURL,
		InvocationID: snap.InvocationID,
		Currency:     strings.ToUpper(snap.Session.Data.Currency()),
	}
	if amount, ok := snap.Session.Data.Amount(); ok {
		v.Amount = decimal.New(amount, -2).StringFixed(2)
	}
	if snap.State == StateFailed && snap.Failure != nil {
		v.Error = snap.Failure.Message
	}

	switch {
	case snap.Starting || snap.State.InFlight() || snap.State == StateSucceeded:
		v.Stage, v.Label, v.Disabled = StageProcessing, labelProcessing, true
	case script.Pending():
		v.Stage, v.Label, v.Disabled = StageLoading, labelLoading, true
	case snap.NotReady:
		v.Stage, v.Label, v.Disabled = StageDisabled, labelPlaceOrder, true
	default:
		v.Stage, v.Label = StageIdle, labelPlaceOrder
	}
	return v
}
