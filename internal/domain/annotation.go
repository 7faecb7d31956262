package domain

import (
	"context"
	"fmt"
	"time"
)

// Role identifies which of the two annotation forms a user works with.
type Role string

const (
	RoleClinician     Role = "Clinician"
	RoleDataScientist Role = "DataScientist"
)

// ParseRole accepts the compact role token or the display spelling.
func ParseRole(s string) (Role, error) {
	switch s {
	case "Clinician":
		return RoleClinician, nil
	case "DataScientist", "Data Scientist", "DS":
		return RoleDataScientist, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Valid reports whether the role is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleClinician || r == RoleDataScientist
}

// Suffix returns the column-name suffix used in persisted files.
func (r Role) Suffix() string {
	if r == RoleClinician {
		return "cl"
	}
	return "ds"
}

// Display returns the human-facing spelling of the role.
func (r Role) Display() string {
	if r == RoleDataScientist {
		return "Data Scientist"
	}
	return string(r)
}

// Annotation is one persisted row: the latest state of one image as
// judged by one user. Earlier rows for the same (image path, username)
// pair are superseded on every save.
type Annotation struct {
	AnnotationID string
	Timestamp    time.Time
	Username     string
	Role         Role
	ElapsedSec   *float64
	StudyKey     string
	ImageID      string
	ImagePath    string

	// Fields maps persisted column names to the selected option.
	// A missing key means the field is unset.
	Fields map[string]string
}

// Field returns the stored value for a persisted column name.
func (a *Annotation) Field(column string) (string, bool) {
	v, ok := a.Fields[column]
	return v, ok
}

// AnnotationStore defines the interface for annotation persistence.
// Implementations must dedup by (image path, username) on every upsert
// and commit the whole table atomically.
type AnnotationStore interface {
	// Upsert replaces matching rows with the given records and returns
	// the resulting snapshot.
	Upsert(ctx context.Context, filename string, records []*Annotation) ([]*Annotation, error)

	// Snapshot returns the cached table for a store file, reading it
	// from storage on first use. A missing or unreadable file yields an
	// empty snapshot.
	Snapshot(filename string, role Role) []*Annotation
}
