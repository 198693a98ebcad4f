package model

import (
	"testing"
	"time"
)

func TestSession_Expired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		s    Session
		want bool
	}{
		{
			name: "live session",
			s: Session{
				ExpiresAt:   now.Add(time.Hour),
				TokenExpiry: now.Add(30 * time.Minute),
			},
			want: false,
		},
		{
			name: "session expiry passed",
			s: Session{
				ExpiresAt:   now.Add(-time.Minute),
				TokenExpiry: now.Add(time.Hour),
			},
			want: true,
		},
		{
			name: "token expiry passed",
			s: Session{
				ExpiresAt:   now.Add(time.Hour),
				TokenExpiry: now.Add(-time.Second),
			},
			want: true,
		},
		{
			name: "zero expiries never expire",
			s:    Session{},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.s.Expired(now); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSession_Fact_kyc_request_id(t *testing.T) {
	s := &Session{}
	if _, ok := s.Fact(FactKYCRequestID); ok {
		t.Error("Fact(kyc_request_id) on empty session = present, want absent")
	}
	s.SetFact(FactKYCRequestID, "kyc-123")
	if s.KYCRequestID != "kyc-123" {
		t.Errorf("KYCRequestID = %q, want %q", s.KYCRequestID, "kyc-123")
	}
	v, ok := s.Fact(FactKYCRequestID)
	if !ok || v != "kyc-123" {
		t.Errorf("Fact(kyc_request_id) = %q, %v, want kyc-123, true", v, ok)
	}
}

func TestSession_Fact_extra_keys(t *testing.T) {
	s := &Session{}
	s.SetFact(FactInvestorProfileID, "inv-9")
	v, ok := s.Fact(FactInvestorProfileID)
	if !ok || v != "inv-9" {
		t.Errorf("Fact(investor_profile_id) = %q, %v, want inv-9, true", v, ok)
	}
	if _, ok := s.Fact("unknown"); ok {
		t.Error("Fact(unknown) = present, want absent")
	}
}

func TestSession_Clone_is_deep(t *testing.T) {
	s := &Session{ID: "sess-1"}
	s.SetFact(FactInvestorProfileID, "inv-9")
	cp := s.Clone()
	cp.SetFact(FactInvestorProfileID, "changed")
	if v, _ := s.Fact(FactInvestorProfileID); v != "inv-9" {
		t.Errorf("original mutated through clone: %q", v)
	}
}

func TestWizardDefinition_Step(t *testing.T) {
	w := &WizardDefinition{Steps: []StepDefinition{
		{ID: 1, Slug: "personal"},
		{ID: 2, Slug: "bank"},
	}}
	if got := w.Step(0); got != nil {
		t.Errorf("Step(0) = %v, want nil", got)
	}
	if got := w.Step(3); got != nil {
		t.Errorf("Step(3) = %v, want nil", got)
	}
	if got := w.Step(2); got == nil || got.Slug != "bank" {
		t.Errorf("Step(2) = %v, want bank", got)
	}
	if w.MaxStep() != 2 {
		t.Errorf("MaxStep() = %d, want 2", w.MaxStep())
	}
}

func TestFileConstraint_Limit(t *testing.T) {
	var fc *FileConstraint
	if fc.Limit() != DefaultMaxFileBytes {
		t.Errorf("nil Limit() = %d, want %d", fc.Limit(), int64(DefaultMaxFileBytes))
	}
	fc = &FileConstraint{MaxBytes: 1024}
	if fc.Limit() != 1024 {
		t.Errorf("Limit() = %d, want 1024", fc.Limit())
	}
}
