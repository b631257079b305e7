package domain

import "github.com/healthsign/authagent/pkg/josex"

// Request is one queued authentication run. Derived requests (the
// SMC-B half of a multi-card login) carry the parent's ID so the queue
// can drop them when the parent fails.
type Request struct {
	ID           string
	ChallengeURL string
	Variant      josex.Variant
	CardType     CardType
	Callback     CallbackType
	Deeplink     string // target app URL when Callback is DEEPLINK
	ClientID     string
	ParentID     string
}

// Derived reports whether this request was spawned by a multi-card
// parent rather than by an external trigger.
func (r Request) Derived() bool { return r.ParentID != "" }

// Result is the terminal outcome of a flow, handed to the result sink.
type Result struct {
	RequestID string
	OK        bool
	URL       string // redirect target on success, error URI when the IdP sent one
	Callback  CallbackType
	Deeplink  string
	Err       *FlowError
}
