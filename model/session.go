package model

import "time"

// Well-known fact keys produced by wizard steps and required by later ones.
const (
	FactKYCRequestID      = "kyc_request_id"
	FactInvestorProfileID = "investor_profile_id"
)

// Session is the server-side onboarding session record. The browser holds
// only a signed cookie carrying the session ID; everything else lives here.
type Session struct {
	ID            string            `json:"id"`
	Tenant        string            `json:"tenant"`
	WizardID      string            `json:"wizard_id"`
	AccessToken   string            `json:"-"`
	TokenExpiry   time.Time         `json:"token_expiry"`
	KYCRequestID  string            `json:"kyc_request_id,omitempty"`
	CurrentStepID int               `json:"current_step_id,omitempty"`
	Completed     bool              `json:"completed,omitempty"`
	Facts         map[string]string `json:"facts,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	ExpiresAt     time.Time         `json:"expires_at"`
}

// Expired reports whether the session is past either its own expiry or the
// expiry of the access token it carries. Stores treat expired records as
// absent.
func (s *Session) Expired(now time.Time) bool {
	if !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt) {
		return true
	}
	if !s.TokenExpiry.IsZero() && now.After(s.TokenExpiry) {
		return true
	}
	return false
}

// Fact returns the value of a produced fact. KYCRequestID has a dedicated
// field; everything else is looked up in the Facts map.
func (s *Session) Fact(name string) (string, bool) {
	if name == FactKYCRequestID {
		return s.KYCRequestID, s.KYCRequestID != ""
	}
	v, ok := s.Facts[name]
	return v, ok && v != ""
}

// SetFact records a produced fact on the session.
func (s *Session) SetFact(name, value string) {
	if name == FactKYCRequestID {
		s.KYCRequestID = value
		return
	}
	if s.Facts == nil {
		s.Facts = make(map[string]string)
	}
	s.Facts[name] = value
}

// Clone returns a deep copy. Stores hand out copies so callers cannot
// mutate shared state.
func (s *Session) Clone() *Session {
	cp := *s
	if s.Facts != nil {
		cp.Facts = make(map[string]string, len(s.Facts))
		for k, v := range s.Facts {
			cp.Facts[k] = v
		}
	}
	return &cp
}
