// Package schema holds the static definition of the two annotation
// forms. Every component that saves, loads, resets or validates form
// values consults these tables instead of repeating field lists.
package schema

import "github.com/ardsquest/cxr-annotator/internal/domain"

// Field describes one radio group of an annotation form.
type Field struct {
	Label      string   // display label
	Key        string   // form key used by the session and presentation layer
	Column     string   // persisted column name in store files
	Options    []string // allowed option values, in display order
	Horizontal bool     // layout hint for the presentation layer
}

var clinicianFields = []Field{
	{
		Label:  "Select consistency:",
		Key:    "ards_likelihood",
		Column: "ARDS_Likelihood_Score",
		Options: []string{
			"1 - Highly inconsistent",
			"2 - Somewhat inconsistent",
			"3 - Somewhat consistent",
			"4 - Highly consistent",
		},
	},
	{
		Label:      "Diffuse alveolar damage:",
		Key:        "diffuse_damage",
		Column:     "DiffuseAlveolarDamage",
		Options:    []string{"Left", "Right", "Bilateral", "None"},
		Horizontal: true,
	},
	{
		Label:      "Pleural space occupying lesion (e.g., PEFF, PTX):",
		Key:        "pleural_lesion",
		Column:     "PleuralSpaceOccupyingLesion",
		Options:    []string{"Left", "Right", "Bilateral", "None"},
		Horizontal: true,
	},
	{
		Label:      "Pulmonary edema:",
		Key:        "pulmonary_edema",
		Column:     "PulmonaryEdema",
		Options:    []string{"Left", "Right", "Bilateral", "None"},
		Horizontal: true,
	},
	{
		Label:      "Consolidation:",
		Key:        "consolidation",
		Column:     "Consolidation",
		Options:    []string{"Left", "Right", "Bilateral", "None"},
		Horizontal: true,
	},
	{
		Label:      "Atelectasis:",
		Key:        "atelectasis",
		Column:     "Atelectasis",
		Options:    []string{"Left", "Right", "Bilateral", "None"},
		Horizontal: true,
	},
	{
		Label:      "Normal Appearing Mediastinum?:",
		Key:        "mediastinum_findings",
		Column:     "FindingsMediastinum",
		Options:    []string{"Yes", "No"},
		Horizontal: true,
	},
	{
		Label:      "Sufficient quality for clinical analysis:",
		Key:        "sufficient_quality",
		Column:     "SufficientQuality",
		Options:    []string{"Yes", "No"},
		Horizontal: true,
	},
	{
		Label:      "Global ARDS Criteria:",
		Key:        "global_criteria",
		Column:     "GlobalARDSCriteria",
		Options:    []string{"Yes", "No"},
		Horizontal: true,
	},
}

var dataScientistFields = []Field{
	{
		Label:      "Intubated (OETT or tracheostomy):",
		Key:        "intubated",
		Column:     "Intubated",
		Options:    []string{"Yes", "No"},
		Horizontal: true,
	},
	{
		Label:      "External support devices visible (e.g., ECG leads, brace):",
		Key:        "external_support_devices",
		Column:     "ExternalSupportDevices",
		Options:    []string{"Yes", "No"},
		Horizontal: true,
	},
	{
		Label:      "Implanted medical device visible (e.g., pacemaker, prosthetic):",
		Key:        "implanted_device",
		Column:     "ImplantedDevice",
		Options:    []string{"Yes", "No"},
		Horizontal: true,
	},
	{
		Label:      "Other foreign bodies present (e.g., shrapnel):",
		Key:        "foreign_bodies",
		Column:     "ForeignBodies",
		Options:    []string{"Yes", "No"},
		Horizontal: true,
	},
	{
		Label:      "Image artifacts/quality issues present:",
		Key:        "image_artifacts",
		Column:     "ImageArtifacts",
		Options:    []string{"Yes", "No"},
		Horizontal: true,
	},
	{
		Label:      "Annotations or text present:",
		Key:        "annotations_text_present",
		Column:     "AnnotationsTextPresent",
		Options:    []string{"No", "Few characters", "Complete words"},
		Horizontal: true,
	},
	{
		Label:      "PHI present?",
		Key:        "phi_present",
		Column:     "PhiPresent",
		Options:    []string{"Yes", "No"},
		Horizontal: true,
	},
	{
		Label:      "Post-processing image present?",
		Key:        "post_processing",
		Column:     "PostProcessing",
		Options:    []string{"Yes", "No"},
		Horizontal: true,
	},
	{
		Label:      "View present?",
		Key:        "view_present",
		Column:     "ViewPresent",
		Options:    []string{"Frontal", "Lateral", "Other"},
		Horizontal: true,
	},
}

// Fields returns the ordered form definition for a role.
func Fields(role domain.Role) []Field {
	if role == domain.RoleClinician {
		return clinicianFields
	}
	return dataScientistFields
}

// FieldByKey looks a field up by its form key.
func FieldByKey(role domain.Role, key string) (Field, bool) {
	for _, f := range Fields(role) {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// Columns returns the persisted column names for a role, in form order.
func Columns(role domain.Role) []string {
	fields := Fields(role)
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Column
	}
	return cols
}

// ValidOption reports whether value is an allowed option of the field.
func (f Field) ValidOption(value string) bool {
	for _, opt := range f.Options {
		if opt == value {
			return true
		}
	}
	return false
}
