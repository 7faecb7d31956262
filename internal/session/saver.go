package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ardsquest/cxr-annotator/internal/domain"
	"github.com/ardsquest/cxr-annotator/internal/schema"
	"github.com/ardsquest/cxr-annotator/internal/store"
)

// Scope selects what one save persists.
type Scope int

const (
	// SingleImage persists one record for the image at the cursor.
	SingleImage Scope = iota
	// AllViewsInStudy persists one record per view of the current
	// study, all sharing the current form values.
	AllViewsInStudy
)

// Saver builds annotation records from session state and drives store
// upserts. It is invoked after every field edit (partial save) and
// right before a navigation move commits (final save).
type Saver struct {
	store  domain.AnnotationStore
	now    func() time.Time
	logger *slog.Logger
}

// NewSaver creates a Saver sharing the session's clock.
func NewSaver(st domain.AnnotationStore, now func() time.Time, logger *slog.Logger) *Saver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Saver{store: st, now: now, logger: logger}
}

// Save persists the session's current form for the selected scope into
// today's store file. On success the session's saved notice is set and
// the store's cached snapshot is current; on failure the session is
// left untouched for a manual retry.
func (sv *Saver) Save(ctx context.Context, s *Session, scope Scope) error {
	now := sv.now()

	var elapsed *float64
	if !s.startedAt.IsZero() {
		secs := now.Sub(s.startedAt).Seconds()
		elapsed = &secs
	}

	var targets []domain.ImageRef
	switch scope {
	case AllViewsInStudy:
		targets = s.currentStudyImages()
	default:
		targets = []domain.ImageRef{s.CurrentImage()}
	}

	values := s.form.Values()
	records := make([]*domain.Annotation, 0, len(targets))
	for _, img := range targets {
		fields := make(map[string]string, len(values))
		for _, f := range schema.Fields(s.Role) {
			if v, ok := values[f.Key]; ok {
				fields[f.Column] = v
			}
		}
		records = append(records, &domain.Annotation{
			AnnotationID: uuid.NewString(),
			Timestamp:    now,
			Username:     s.Username,
			Role:         s.Role,
			ElapsedSec:   elapsed,
			StudyKey:     img.StudyKey,
			ImageID:      img.ImageID,
			ImagePath:    img.ImagePath,
			Fields:       fields,
		})
	}

	filename := store.Filename(s.Username, s.Role, now)
	if _, err := sv.store.Upsert(ctx, filename, records); err != nil {
		return fmt.Errorf("while saving annotations for %s: %w", s.Username, err)
	}
	s.saved = true
	return nil
}
