package model

import (
	"net/http"
	"net/url"
	"time"
)

// Hop represents a single step in a redirect chain.
type Hop struct {
	Index  int    `json:"index"`
	URL    string `json:"url"`
	Method string `json:"method"`
	Status int    `json:"status"`
	Via    string `json:"via"`
	TimeMs int64  `json:"time_ms"`
	Size   int64  `json:"size"`
	Final  bool   `json:"final"`
}

// Request describes the start of one load.
type Request struct {
	ID                          string
	DocumentID                  string
	URL                         *url.URL
	Method                      string
	Headers                     http.Header
	Destination                 Destination
	LoadFlags                   int
	HasUserGesture              bool
	OriginatedFromServiceWorker bool
}

// Redirect describes one server redirect inside a chain.
type Redirect struct {
	NewURL     *url.URL
	NewMethod  string
	StatusCode int
}

// Response describes the final response of a chain.
type Response struct {
	URL        *url.URL
	StatusCode int
	Headers    http.Header
	MimeType   string
}

// CheckQuery is everything an oracle needs to judge one URL.
type CheckQuery struct {
	RequestID      string
	DocumentID     string
	URL            *url.URL
	Method         string
	Headers        http.Header
	Destination    Destination
	HasUserGesture bool
	LoadFlags      int
	RedirectIndex  int

	RealTimeLookupEnabled        bool
	HashRealTimeLookupEnabled    bool
	AllowSubresourceCheck        bool
	AllowDBCheck                 bool
	AllowHighConfidenceAllowlist bool
}

// Verdict is the oracle's answer for one URL.
type Verdict struct {
	Proceed            bool
	ShowedInterstitial bool
	Kind               CheckKind
	Threat             ThreatType
	Reason             string
	// SkipRemaining asks the gate to stop checking the rest of the chain.
	SkipRemaining bool
	Err           error
}

// VerdictRecord is the serialisable form of a verdict for one chain URL.
type VerdictRecord struct {
	URL                string     `json:"url"`
	Proceed            bool       `json:"proceed"`
	ShowedInterstitial bool       `json:"showed_interstitial,omitempty"`
	Kind               CheckKind  `json:"kind"`
	Threat             ThreatType `json:"threat,omitempty"`
	Slow               bool       `json:"slow,omitempty"`
	Error              string     `json:"error,omitempty"`
}

// Result is the final output for a single loaded target.
type Result struct {
	Target     string          `json:"target"`
	DocumentID string          `json:"document_id"`
	Chain      []Hop           `json:"chain"`
	Verdicts   []VerdictRecord `json:"verdicts,omitempty"`
	Blocked    bool            `json:"blocked"`
	CancelCode int             `json:"cancel_code,omitempty"`
	Deferred   bool            `json:"deferred"`
	DeferredMs int64           `json:"deferred_ms"`
	Adopted    bool            `json:"adopted,omitempty"`
	ClientNext string          `json:"client_next,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	DurationMs int64           `json:"duration_ms"`
	Error      string          `json:"error,omitempty"`
}
