package session

import (
	"fmt"

	"github.com/ardsquest/cxr-annotator/internal/domain"
	"github.com/ardsquest/cxr-annotator/internal/schema"
)

// FormState holds the selected option for every field of the form shown
// for the currently displayed image. Unset fields have no entry.
type FormState struct {
	role   domain.Role
	values map[string]string
}

// NewFormState creates an all-unset form for a role.
func NewFormState(role domain.Role) *FormState {
	return &FormState{
		role:   role,
		values: make(map[string]string),
	}
}

// Reset sets every field back to unset.
func (f *FormState) Reset() {
	f.values = make(map[string]string)
}

// Load populates the form from a persisted record. Fields absent or
// empty in the record stay unset. Stored values are taken as-is, even
// when they no longer match the configured options: completeness only
// distinguishes set from unset, so records written under an older
// schema never block navigation.
func (f *FormState) Load(rec *domain.Annotation) {
	for _, field := range schema.Fields(f.role) {
		if v, ok := rec.Field(field.Column); ok && v != "" {
			f.values[field.Key] = v
		}
	}
}

// Set stores a field value after validating it against the schema. An
// empty value clears the field. Invalid edits leave the form untouched.
func (f *FormState) Set(key, value string) error {
	field, ok := schema.FieldByKey(f.role, key)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, key)
	}
	if value == "" {
		delete(f.values, key)
		return nil
	}
	if !field.ValidOption(value) {
		return fmt.Errorf("%w: %q for field %q", ErrInvalidOption, value, key)
	}
	f.values[key] = value
	return nil
}

// Get returns the selected option for a form key.
func (f *FormState) Get(key string) (string, bool) {
	v, ok := f.values[key]
	return v, ok
}

// Complete reports whether every schema field for the role is set.
// This predicate gates all navigation.
func (f *FormState) Complete() bool {
	for _, field := range schema.Fields(f.role) {
		if _, ok := f.values[field.Key]; !ok {
			return false
		}
	}
	return true
}

// Values returns a copy of the current form-key to option mapping.
func (f *FormState) Values() map[string]string {
	out := make(map[string]string, len(f.values))
	for k, v := range f.values {
		out[k] = v
	}
	return out
}
