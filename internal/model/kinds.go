package model

import "strings"

// Destination is what the requested resource will be used for.
type Destination int

const (
	DestinationDocument Destination = iota
	DestinationIframe
	DestinationScript
	DestinationStyle
	DestinationImage
	DestinationFetch
	DestinationOther
)

func (d Destination) String() string {
	switch d {
	case DestinationDocument:
		return "document"
	case DestinationIframe:
		return "iframe"
	case DestinationScript:
		return "script"
	case DestinationStyle:
		return "style"
	case DestinationImage:
		return "image"
	case DestinationFetch:
		return "fetch"
	default:
		return "other"
	}
}

// IsMainFrame reports whether the destination is a top-level document.
func (d Destination) IsMainFrame() bool { return d == DestinationDocument }

// IsSubresource reports whether the destination is neither a document nor a frame.
func (d Destination) IsSubresource() bool {
	return d != DestinationDocument && d != DestinationIframe
}

// CheckKind identifies which mechanism produced a verdict. It is diagnostic
// only; callers branch on it solely to learn whether a check was performed.
type CheckKind string

const (
	CheckSkipped      CheckKind = "skipped"
	CheckHashDatabase CheckKind = "hash_database"
	CheckURLRealTime  CheckKind = "url_real_time"
	CheckHashRealTime CheckKind = "hash_real_time"
)

// Performed reports whether any mechanism actually looked at the URL.
func (k CheckKind) Performed() bool { return k != CheckSkipped && k != "" }

// ThreatType classifies an unsafe URL.
type ThreatType string

const (
	ThreatNone              ThreatType = ""
	ThreatMalware           ThreatType = "MALWARE"
	ThreatSocialEngineering ThreatType = "SOCIAL_ENGINEERING"
	ThreatUnwantedSoftware  ThreatType = "UNWANTED_SOFTWARE"
	ThreatBilling           ThreatType = "BILLING"
	ThreatSSRF              ThreatType = "SSRF"
	ThreatCredentialInURL   ThreatType = "CREDENTIAL_IN_URL"
)

var threatTypes = []ThreatType{
	ThreatMalware,
	ThreatSocialEngineering,
	ThreatUnwantedSoftware,
	ThreatBilling,
	ThreatSSRF,
	ThreatCredentialInURL,
}

// ParseThreatType maps a wire name to a ThreatType. Unknown names map to
// ThreatNone and ok=false.
func ParseThreatType(s string) (ThreatType, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" || s == "SAFE" || s == "THREAT_TYPE_UNSPECIFIED" {
		return ThreatNone, true
	}
	for _, t := range threatTypes {
		if string(t) == s {
			return t, true
		}
	}
	return ThreatNone, false
}
