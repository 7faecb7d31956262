package schema

import (
	"testing"

	"github.com/ardsquest/cxr-annotator/internal/domain"
)

func TestFields(t *testing.T) {
	for _, role := range []domain.Role{domain.RoleClinician, domain.RoleDataScientist} {
		fields := Fields(role)
		if len(fields) != 9 {
			t.Errorf("Fields(%s) has %d fields, want 9", role, len(fields))
		}
		seenKeys := make(map[string]bool)
		seenCols := make(map[string]bool)
		for _, f := range fields {
			if f.Key == "" || f.Column == "" || f.Label == "" {
				t.Errorf("Fields(%s): field %+v is missing an identity", role, f)
			}
			if len(f.Options) < 2 {
				t.Errorf("Fields(%s): field %s needs at least two options", role, f.Key)
			}
			if seenKeys[f.Key] || seenCols[f.Column] {
				t.Errorf("Fields(%s): field %s duplicates a key or column", role, f.Key)
			}
			seenKeys[f.Key] = true
			seenCols[f.Column] = true
		}
	}
}

func TestFieldByKey(t *testing.T) {
	f, ok := FieldByKey(domain.RoleClinician, "ards_likelihood")
	if !ok {
		t.Fatal("FieldByKey(ards_likelihood) not found")
	}
	if f.Column != "ARDS_Likelihood_Score" {
		t.Errorf("Column = %s, want ARDS_Likelihood_Score", f.Column)
	}
	if !f.ValidOption("4 - Highly consistent") {
		t.Error("ValidOption rejected a listed option")
	}
	if f.ValidOption("5 - Certain") {
		t.Error("ValidOption accepted an unlisted option")
	}

	// Keys do not leak across roles.
	if _, ok := FieldByKey(domain.RoleDataScientist, "ards_likelihood"); ok {
		t.Error("clinician key resolved for the data scientist form")
	}
	if _, ok := FieldByKey(domain.RoleClinician, "view_present"); ok {
		t.Error("data scientist key resolved for the clinician form")
	}
}

func TestColumns(t *testing.T) {
	cols := Columns(domain.RoleDataScientist)
	if len(cols) != 9 {
		t.Fatalf("Columns() has %d entries, want 9", len(cols))
	}
	if cols[0] != "Intubated" || cols[8] != "ViewPresent" {
		t.Errorf("Columns() order changed: first %s, last %s", cols[0], cols[8])
	}
}
