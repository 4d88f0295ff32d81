package models

import "time"

// CallSession is one record per call placed through the service. It is owned
// by the session store; transitions are applied through CompareAndSwap keyed
// on Version, so two concurrent callbacks for the same call cannot both win.
type CallSession struct {
	ID              int64
	CallID          string // system-assigned identifier, key for callbacks
	ProviderCallID  string // identifier assigned by the telephony provider
	CampaignID      string // owning campaign, or "" for one-off calls
	PhoneNumber     string // E.164, leading +
	CustomerName    string
	CallbackURL     string
	State           string
	LastDigit       string
	InvalidAttempts int
	FailureReason   string
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Campaign groups bulk outbound calls under one named effort. Language is a
// short code (en, es, ...) that selects the text-to-speech locale for the
// campaign's prompts. Inactive campaigns reject new bulk calls but keep their
// history.
type Campaign struct {
	ID          int64
	CampaignID  string
	Name        string
	Description string
	Language    string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CallEventRecord is an audit row written for every callback the dispatcher
// accepts, recording the event and the state it produced.
type CallEventRecord struct {
	ID          int64
	CallID      string
	EventKind   string
	Digit       string
	Reason      string
	ResultState string
	CreatedAt   time.Time
}
