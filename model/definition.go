package model

// Step operations. Exactly one create step opens a wizard; patch steps
// amend the created resource; an esign step closes it.
const (
	OperationCreate = "create"
	OperationPatch  = "patch"
	OperationESign  = "esign"
)

// Step triggers. Submit steps run on form submission; mount steps run as
// soon as the sequencer resolves onto them.
const (
	TriggerSubmit = "submit"
	TriggerMount  = "mount"
)

// Field types.
const (
	FieldTypeText  = "text"
	FieldTypeEmail = "email"
	FieldTypeDate  = "date"
	FieldTypeEnum  = "enum"
	FieldTypeFile  = "file"
)

// DefaultMaxFileBytes caps uploaded files when a file field declares no
// explicit limit.
const DefaultMaxFileBytes = 10 << 20

// WizardDefinition is the root structure of a wizard variant file. Each
// file declares one ordered list of steps; the variant is the file.
type WizardDefinition struct {
	ID      string `yaml:"id"      json:"id"`
	Name    string `yaml:"name"    json:"name"`
	Version string `yaml:"version" json:"version"`
	// Resource is the remote collection the wizard manages, e.g.
	// "/kyc_requests". The create step POSTs to it; patch steps PATCH
	// "<resource>/{id}".
	Resource string           `yaml:"resource" json:"resource"`
	Steps    []StepDefinition `yaml:"steps"   json:"steps"`

	// Checksum is computed at load time and not part of the YAML.
	Checksum string `yaml:"-" json:"-"`
	// SourceFile records the originating file path.
	SourceFile string `yaml:"-" json:"-"`
}

// StepDefinition describes a single wizard step. IDs are contiguous and
// start at 1; the sequencer clamps everything to [1, len(Steps)].
type StepDefinition struct {
	ID        int               `yaml:"id"        json:"id"`
	Slug      string            `yaml:"slug"      json:"slug"`
	Title     string            `yaml:"title"     json:"title"`
	Operation string            `yaml:"operation" json:"operation"`
	Section   string            `yaml:"section"   json:"section,omitempty"`
	Trigger   string            `yaml:"trigger"   json:"trigger,omitempty"`
	Requires  []string          `yaml:"requires"  json:"requires,omitempty"`
	Produces  []string          `yaml:"produces"  json:"produces,omitempty"`
	Fields    []FieldDefinition `yaml:"fields"    json:"fields,omitempty"`
}

// FieldDefinition describes a single form field within a step.
type FieldDefinition struct {
	Name  string `yaml:"name"  json:"name"`
	Label string `yaml:"label" json:"label"`
	Type  string `yaml:"type"  json:"type"`
	// Payload overrides the key under which the field's value (or upload
	// id) is sent to the remote API. The address proof front file posts
	// as "proof" while the form field stays "proof_front".
	Payload    string                `yaml:"payload"    json:"payload,omitempty"`
	Required   bool                  `yaml:"required"   json:"required,omitempty"`
	Validation *ValidationDefinition `yaml:"validation" json:"validation,omitempty"`
	Options    []string              `yaml:"options"    json:"options,omitempty"`
	File       *FileConstraint       `yaml:"file"       json:"file,omitempty"`
	Default    string                `yaml:"default"    json:"default,omitempty"`
	HelpText   string                `yaml:"help_text"  json:"help_text,omitempty"`
}

// PayloadKey returns the key under which the field is sent to the remote
// API, defaulting to the form field name.
func (f *FieldDefinition) PayloadKey() string {
	if f.Payload != "" {
		return f.Payload
	}
	return f.Name
}

// ValidationDefinition describes validation rules for a field.
type ValidationDefinition struct {
	MinLength *int   `yaml:"min_length" json:"min_length,omitempty"`
	MaxLength *int   `yaml:"max_length" json:"max_length,omitempty"`
	Pattern   string `yaml:"pattern"    json:"pattern,omitempty"`
	Message   string `yaml:"message"    json:"message,omitempty"`
}

// FileConstraint describes limits for a file field.
type FileConstraint struct {
	MaxBytes  int64    `yaml:"max_bytes"  json:"max_bytes,omitempty"`
	MimeTypes []string `yaml:"mime_types" json:"mime_types,omitempty"`
	Purpose   string   `yaml:"purpose"    json:"purpose,omitempty"`
}

// Limit returns the effective byte cap for the constraint.
func (fc *FileConstraint) Limit() int64 {
	if fc == nil || fc.MaxBytes <= 0 {
		return DefaultMaxFileBytes
	}
	return fc.MaxBytes
}

// MinStep is the first step of every wizard.
const MinStep = 1

// MaxStep returns the last step ID of the wizard.
func (w *WizardDefinition) MaxStep() int {
	return len(w.Steps)
}

// Step returns the step with the given ID, or nil if out of range.
func (w *WizardDefinition) Step(id int) *StepDefinition {
	if id < MinStep || id > len(w.Steps) {
		return nil
	}
	return &w.Steps[id-1]
}
