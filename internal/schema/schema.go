// Package schema validates step submissions against field definitions.
// Validation is purely local; no remote call happens while any field is
// invalid.
package schema

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/mosaicfin/onboard/model"
)

// Field error codes.
const (
	CodeRequired     = "REQUIRED"
	CodePattern      = "PATTERN"
	CodeMinLength    = "MIN_LENGTH"
	CodeMaxLength    = "MAX_LENGTH"
	CodeInvalidEmail = "INVALID_EMAIL"
	CodeInvalidEnum  = "INVALID_ENUM"
	CodeInvalidDate  = "INVALID_DATE"
	CodeFileTooLarge = "FILE_TOO_LARGE"
	CodeFileType     = "FILE_TYPE"
)

// DateLayout is the wire format for date fields.
const DateLayout = "2006-01-02"

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// FileInput describes an uploaded file awaiting validation. Head holds
// the first bytes of the file for content sniffing.
type FileInput struct {
	Filename    string
	Size        int64
	ContentType string
	Head        []byte
}

var (
	patternMu    sync.RWMutex
	patternCache = make(map[string]*regexp.Regexp)
)

func compiled(pattern string) (*regexp.Regexp, error) {
	patternMu.RLock()
	re, ok := patternCache[pattern]
	patternMu.RUnlock()
	if ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	patternMu.Lock()
	patternCache[pattern] = re
	patternMu.Unlock()
	return re, nil
}

// Validate checks the submitted values and files against the step's field
// definitions and returns all violations. An empty slice means the
// submission may proceed to the remote call.
func Validate(step *model.StepDefinition, values map[string]string, files map[string]FileInput) []model.FieldError {
	var errs []model.FieldError

	for i := range step.Fields {
		f := &step.Fields[i]
		if f.Type == model.FieldTypeFile {
			errs = append(errs, validateFile(f, files)...)
			continue
		}
		errs = append(errs, validateValue(f, values)...)
	}

	return errs
}

func validateValue(f *model.FieldDefinition, values map[string]string) []model.FieldError {
	value := strings.TrimSpace(values[f.Name])
	if value == "" {
		if f.Required {
			return []model.FieldError{fieldErr(f, CodeRequired, fmt.Sprintf("%s is required", label(f)))}
		}
		return nil
	}

	var errs []model.FieldError

	if v := f.Validation; v != nil {
		if v.MinLength != nil && len(value) < *v.MinLength {
			errs = append(errs, fieldErr(f, CodeMinLength,
				fmt.Sprintf("%s must be at least %d characters", label(f), *v.MinLength)))
		}
		if v.MaxLength != nil && len(value) > *v.MaxLength {
			errs = append(errs, fieldErr(f, CodeMaxLength,
				fmt.Sprintf("%s must be at most %d characters", label(f), *v.MaxLength)))
		}
		if v.Pattern != "" {
			re, err := compiled(v.Pattern)
			if err == nil && !re.MatchString(value) {
				errs = append(errs, fieldErr(f, CodePattern,
					fmt.Sprintf("%s is not in the expected format", label(f))))
			}
		}
	}

	switch f.Type {
	case model.FieldTypeEmail:
		if !emailPattern.MatchString(value) {
			errs = append(errs, fieldErr(f, CodeInvalidEmail,
				fmt.Sprintf("%s must be a valid email address", label(f))))
		}
	case model.FieldTypeDate:
		if _, err := time.Parse(DateLayout, value); err != nil {
			errs = append(errs, fieldErr(f, CodeInvalidDate,
				fmt.Sprintf("%s must be a date in YYYY-MM-DD format", label(f))))
		}
	case model.FieldTypeEnum:
		if !contains(f.Options, value) {
			errs = append(errs, fieldErr(f, CodeInvalidEnum,
				fmt.Sprintf("%s must be one of the allowed values", label(f))))
		}
	}

	return errs
}

func validateFile(f *model.FieldDefinition, files map[string]FileInput) []model.FieldError {
	in, ok := files[f.Name]
	if !ok || in.Size == 0 {
		if f.Required {
			return []model.FieldError{fieldErr(f, CodeRequired, fmt.Sprintf("%s is required", label(f)))}
		}
		return nil
	}

	var errs []model.FieldError

	if in.Size > f.File.Limit() {
		errs = append(errs, fieldErr(f, CodeFileTooLarge,
			fmt.Sprintf("%s must be smaller than %d MB", label(f), f.File.Limit()>>20)))
	}
	if f.File != nil && len(f.File.MimeTypes) > 0 {
		if !mimeAllowed(f.File.MimeTypes, effectiveMime(in)) {
			errs = append(errs, fieldErr(f, CodeFileType,
				fmt.Sprintf("%s must be one of: %s", label(f), strings.Join(f.File.MimeTypes, ", "))))
		}
	}

	return errs
}

// effectiveMime prefers the type sniffed from the file's leading bytes
// over the client-declared header. An inconclusive sniff falls back to
// the declared type.
func effectiveMime(in FileInput) string {
	if len(in.Head) > 0 {
		if ct := http.DetectContentType(in.Head); ct != "application/octet-stream" {
			return ct
		}
	}
	return in.ContentType
}

// mimeAllowed matches the declared content type against the allow list.
// image/jpg is accepted as an alias of image/jpeg.
func mimeAllowed(allowed []string, contentType string) bool {
	ct := normalizeMime(contentType)
	for _, a := range allowed {
		if normalizeMime(a) == ct {
			return true
		}
	}
	return false
}

func normalizeMime(mt string) string {
	mt = strings.ToLower(strings.TrimSpace(mt))
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if mt == "image/jpg" {
		return "image/jpeg"
	}
	return mt
}

func fieldErr(f *model.FieldDefinition, code, msg string) model.FieldError {
	if f.Validation != nil && f.Validation.Message != "" && code != CodeRequired {
		msg = f.Validation.Message
	}
	return model.FieldError{Field: f.Name, Code: code, Message: msg}
}

func label(f *model.FieldDefinition) string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
