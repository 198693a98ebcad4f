package definition

import (
	"fmt"
	"regexp"

	"github.com/mosaicfin/onboard/model"
)

// VError describes a single validation error in a wizard definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator validates wizard variants structurally and referentially.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all wizard variants.
func (v *Validator) Validate(defs []model.WizardDefinition) []VError {
	var errs []VError
	seen := make(map[string]bool)
	for i, def := range defs {
		prefix := fmt.Sprintf("wizards[%d]", i)
		if seen[def.ID] {
			errs = append(errs, VError{Path: prefix + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("wizard id %q declared more than once", def.ID)})
		}
		seen[def.ID] = true
		errs = append(errs, v.validateWizard(prefix, def)...)
	}
	return errs
}

var validOperations = map[string]bool{
	model.OperationCreate: true,
	model.OperationPatch:  true,
	model.OperationESign:  true,
}

var validTriggers = map[string]bool{
	model.TriggerSubmit: true,
	model.TriggerMount:  true,
}

var validFieldTypes = map[string]bool{
	model.FieldTypeText:  true,
	model.FieldTypeEmail: true,
	model.FieldTypeDate:  true,
	model.FieldTypeEnum:  true,
	model.FieldTypeFile:  true,
}

func (v *Validator) validateWizard(prefix string, def model.WizardDefinition) []VError {
	var errs []VError

	if def.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if def.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "name is required"})
	}
	if def.Version == "" {
		errs = append(errs, VError{Path: prefix + ".version", Code: "REQUIRED", Message: "version is required"})
	}
	if def.Resource == "" {
		errs = append(errs, VError{Path: prefix + ".resource", Code: "REQUIRED", Message: "resource is required"})
	} else if def.Resource[0] != '/' {
		errs = append(errs, VError{Path: prefix + ".resource", Code: "INVALID_PATTERN", Message: "resource must be an absolute path"})
	}
	if len(def.Steps) == 0 {
		errs = append(errs, VError{Path: prefix + ".steps", Code: "REQUIRED", Message: "at least one step is required"})
		return errs
	}

	slugs := make(map[string]bool)
	produced := make(map[string]int) // fact name -> earliest producing step ID
	createCount := 0

	for i, s := range def.Steps {
		sp := fmt.Sprintf("%s.steps[%d]", prefix, i)

		// IDs must be contiguous and start at 1; the sequencer depends on it.
		if s.ID != i+1 {
			errs = append(errs, VError{Path: sp + ".id", Code: "SEQUENCE", Message: fmt.Sprintf("step id %d out of sequence, want %d", s.ID, i+1)})
		}
		if s.Slug == "" {
			errs = append(errs, VError{Path: sp + ".slug", Code: "REQUIRED", Message: "slug is required"})
		} else if slugs[s.Slug] {
			errs = append(errs, VError{Path: sp + ".slug", Code: "DUPLICATE", Message: fmt.Sprintf("slug %q declared more than once", s.Slug)})
		}
		slugs[s.Slug] = true
		if s.Title == "" {
			errs = append(errs, VError{Path: sp + ".title", Code: "REQUIRED", Message: "title is required"})
		}

		if s.Operation == "" {
			errs = append(errs, VError{Path: sp + ".operation", Code: "REQUIRED", Message: "operation is required"})
		} else if !validOperations[s.Operation] {
			errs = append(errs, VError{Path: sp + ".operation", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid operation %q", s.Operation)})
		}
		if s.Trigger != "" && !validTriggers[s.Trigger] {
			errs = append(errs, VError{Path: sp + ".trigger", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid trigger %q", s.Trigger)})
		}

		switch s.Operation {
		case model.OperationCreate:
			createCount++
			if s.ID != model.MinStep {
				errs = append(errs, VError{Path: sp + ".operation", Code: "POSITION", Message: "the create step must be step 1"})
			}
		case model.OperationESign:
			if i != len(def.Steps)-1 {
				errs = append(errs, VError{Path: sp + ".operation", Code: "POSITION", Message: "an esign step must be the final step"})
			}
			if len(s.Fields) > 0 {
				errs = append(errs, VError{Path: sp + ".fields", Code: "UNEXPECTED", Message: "esign steps carry no fields"})
			}
			if s.Trigger != model.TriggerMount {
				errs = append(errs, VError{Path: sp + ".trigger", Code: "INVALID_ENUM", Message: "esign steps must use the mount trigger"})
			}
		}

		// Every required fact must be produced by an earlier step.
		for _, req := range s.Requires {
			from, ok := produced[req]
			if !ok || from >= s.ID {
				errs = append(errs, VError{
					Path:    sp + ".requires",
					Code:    "REF_NOT_FOUND",
					Message: fmt.Sprintf("fact %q is not produced by any earlier step", req),
				})
			}
		}
		for _, p := range s.Produces {
			if _, ok := produced[p]; !ok {
				produced[p] = s.ID
			}
		}

		payloadKeys := make(map[string]bool)
		for j, f := range s.Fields {
			fp := fmt.Sprintf("%s.fields[%d]", sp, j)
			errs = append(errs, v.validateField(fp, f)...)

			if key := f.PayloadKey(); key != "" {
				if payloadKeys[key] {
					errs = append(errs, VError{Path: fp + ".payload", Code: "DUPLICATE", Message: fmt.Sprintf("payload key %q used by more than one field in the step", key)})
				}
				payloadKeys[key] = true
			}
		}
	}

	if createCount != 1 {
		errs = append(errs, VError{Path: prefix + ".steps", Code: "CARDINALITY", Message: fmt.Sprintf("exactly one create step required, found %d", createCount)})
	}

	return errs
}

func (v *Validator) validateField(prefix string, f model.FieldDefinition) []VError {
	var errs []VError

	if f.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "name is required"})
	}
	if f.Type == "" {
		errs = append(errs, VError{Path: prefix + ".type", Code: "REQUIRED", Message: "type is required"})
	} else if !validFieldTypes[f.Type] {
		errs = append(errs, VError{Path: prefix + ".type", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid field type %q", f.Type)})
	}

	if f.Type == model.FieldTypeEnum && len(f.Options) == 0 {
		errs = append(errs, VError{Path: prefix + ".options", Code: "REQUIRED", Message: "enum fields require options"})
	}
	if f.Type != model.FieldTypeFile && f.File != nil {
		errs = append(errs, VError{Path: prefix + ".file", Code: "UNEXPECTED", Message: "file constraints are only valid on file fields"})
	}

	if f.Validation != nil && f.Validation.Pattern != "" {
		if _, err := regexp.Compile(f.Validation.Pattern); err != nil {
			errs = append(errs, VError{
				Path:    prefix + ".validation.pattern",
				Code:    "INVALID_PATTERN",
				Message: fmt.Sprintf("pattern does not compile: %v", err),
			})
		}
	}

	return errs
}
