package definition

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/mosaicfin/onboard/model"
)

// loadShipped loads the definition files the binary ships with.
func loadShipped(t *testing.T) *Registry {
	t.Helper()

	_, file, _, _ := runtime.Caller(0)
	dir := filepath.Join(filepath.Dir(file), "..", "..", "definitions")

	defs, err := NewLoader().LoadAll([]string{dir})
	if err != nil {
		t.Fatalf("load shipped definitions: %v", err)
	}
	if errs := NewValidator().Validate(defs); len(errs) > 0 {
		t.Fatalf("shipped definitions invalid: %v", errs)
	}
	return NewRegistry(defs)
}

func fieldByName(step *model.StepDefinition, name string) *model.FieldDefinition {
	for i := range step.Fields {
		if step.Fields[i].Name == name {
			return &step.Fields[i]
		}
	}
	return nil
}

func TestShippedVariants_kycFullFields(t *testing.T) {
	reg := loadShipped(t)
	def, ok := reg.GetWizard("kyc_full")
	if !ok {
		t.Fatal("kyc_full not registered")
	}

	wantFields := map[int][]string{
		1: {"pan", "email", "mobile_isd", "mobile", "spouse_name"},
		2: {"account_holder_name", "account_number", "ifsc_code"},
		3: {"proof_type", "proof_number", "proof_issue_date", "proof_expiry_date", "proof_front", "proof_back"},
	}
	for stepID, names := range wantFields {
		step := def.Step(stepID)
		if step == nil {
			t.Fatalf("step %d missing", stepID)
		}
		for _, name := range names {
			if fieldByName(step, name) == nil {
				t.Errorf("step %d: field %q missing", stepID, name)
			}
		}
	}
}

func TestShippedVariants_addressProofPayloadKey(t *testing.T) {
	reg := loadShipped(t)
	def, _ := reg.GetWizard("kyc_full")

	// The remote API expects the front proof under "proof"; only the
	// form field is named proof_front.
	front := fieldByName(def.Step(3), "proof_front")
	if front == nil {
		t.Fatal("proof_front missing from the address step")
	}
	if got := front.PayloadKey(); got != "proof" {
		t.Errorf("proof_front payload key = %q, want proof", got)
	}

	back := fieldByName(def.Step(3), "proof_back")
	if back == nil {
		t.Fatal("proof_back missing from the address step")
	}
	if got := back.PayloadKey(); got != "proof_back" {
		t.Errorf("proof_back payload key = %q, want proof_back", got)
	}
}

func TestShippedVariants_investorProfileFields(t *testing.T) {
	reg := loadShipped(t)
	def, ok := reg.GetWizard("investor_basic")
	if !ok {
		t.Fatal("investor_basic not registered")
	}

	step := def.Step(1)
	for _, name := range []string{"type", "tax_status", "pan", "use_default_tax_residences"} {
		if fieldByName(step, name) == nil {
			t.Errorf("investor profile field %q missing", name)
		}
	}
}
