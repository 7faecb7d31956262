// Package session holds the per-user annotation session: form state,
// the navigation state machine over the assigned worklist, and the
// save orchestration between them. All cursors, timers and flags live
// in an explicit Session value; nothing is ambient.
package session

import (
	"errors"
	"log/slog"
	"time"

	"github.com/ardsquest/cxr-annotator/internal/domain"
	"github.com/ardsquest/cxr-annotator/internal/store"
)

// DefaultNavInterval is the minimum gap between two moves in the same
// navigation category.
const DefaultNavInterval = time.Second

// Category is an independent debounce and in-flight unit of navigation.
// Clinicians move across studies and across views within a study; data
// scientists move across the flat image list.
type Category int

const (
	CategoryStudy Category = iota
	CategoryView
	CategoryDSImage
)

func (c Category) String() string {
	switch c {
	case CategoryStudy:
		return "study"
	case CategoryView:
		return "view"
	case CategoryDSImage:
		return "image"
	}
	return "unknown"
}

// Direction of a cursor move.
type Direction int

const (
	Prev Direction = -1
	Next Direction = 1
)

// Session is one user's annotation session over their worklist.
type Session struct {
	Username string
	Role     domain.Role

	images  []domain.ImageRef
	studies []string
	byStudy map[string][]domain.ImageRef

	studyIdx int
	viewIdx  int
	imageIdx int

	form  *FormState
	store domain.AnnotationStore
	saver *Saver

	startedAt time.Time
	lastNav   map[Category]time.Time
	inFlight  map[Category]bool

	warning bool
	saved   bool

	now            func() time.Time
	minNavInterval time.Duration
	logger         *slog.Logger
}

// Option configures a Session.
type Option func(*Session)

// WithClock substitutes the time source. Tests use this to drive the
// debounce and elapsed-time logic deterministically.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithNavInterval overrides the navigation debounce interval.
func WithNavInterval(d time.Duration) Option {
	return func(s *Session) { s.minNavInterval = d }
}

// New builds a session over an ordered worklist. The image order
// defines both the flat data-scientist cursor space and the
// study-then-view grouping for clinicians. The form is populated from
// the most recent persisted record for the starting position.
func New(username string, role domain.Role, images []domain.ImageRef, st domain.AnnotationStore, logger *slog.Logger, opts ...Option) (*Session, error) {
	if !role.Valid() {
		return nil, errors.New("invalid role: access denied")
	}
	if len(images) == 0 {
		return nil, ErrEmptyWorklist
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		Username:       username,
		Role:           role,
		images:         images,
		byStudy:        make(map[string][]domain.ImageRef),
		form:           NewFormState(role),
		store:          st,
		lastNav:        make(map[Category]time.Time),
		inFlight:       make(map[Category]bool),
		now:            time.Now,
		minNavInterval: DefaultNavInterval,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.saver = NewSaver(st, s.now, logger)

	for _, img := range images {
		if _, seen := s.byStudy[img.StudyKey]; !seen {
			s.studies = append(s.studies, img.StudyKey)
		}
		s.byStudy[img.StudyKey] = append(s.byStudy[img.StudyKey], img)
	}

	s.loadCurrent()
	s.startedAt = s.now()
	return s, nil
}

// CurrentImage returns the image at the cursor.
func (s *Session) CurrentImage() domain.ImageRef {
	if s.Role == domain.RoleClinician {
		return s.byStudy[s.studies[s.studyIdx]][s.viewIdx]
	}
	return s.images[s.imageIdx]
}

// currentStudyImages returns every view of the study at the cursor.
func (s *Session) currentStudyImages() []domain.ImageRef {
	return s.byStudy[s.studies[s.studyIdx]]
}

// Position reports the cursor index and bound for a category.
func (s *Session) Position(category Category) (idx, count int) {
	switch category {
	case CategoryStudy:
		return s.studyIdx, len(s.studies)
	case CategoryView:
		return s.viewIdx, len(s.currentStudyImages())
	default:
		return s.imageIdx, len(s.images)
	}
}

// Form exposes the current form state to the presentation layer.
func (s *Session) Form() *FormState {
	return s.form
}

// Complete reports whether the current form gates navigation open.
func (s *Session) Complete() bool {
	return s.form.Complete()
}

// ConsumeWarning reports and clears the incomplete-form warning.
func (s *Session) ConsumeWarning() bool {
	w := s.warning
	s.warning = false
	return w
}

// ConsumeSaved reports and clears the annotation-saved notice.
func (s *Session) ConsumeSaved() bool {
	v := s.saved
	s.saved = false
	return v
}

// loadCurrent populates the form from the most recent persisted record
// for the image at the cursor, if one exists. The snapshot is the
// store's cached table for today's file, so repeated loads within the
// session do not hit storage.
func (s *Session) loadCurrent() {
	img := s.CurrentImage()
	filename := store.Filename(s.Username, s.Role, s.now())
	snapshot := s.store.Snapshot(filename, s.Role)
	if rec := store.MostRecent(snapshot, img.ImagePath, s.Username); rec != nil {
		s.form.Load(rec)
	}
}
