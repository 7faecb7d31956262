package session

import (
	"context"

	"github.com/ardsquest/cxr-annotator/internal/domain"
)

// Move runs one navigation transition: debounce, completeness guard,
// bounds check, save-before-move, cursor advance, then reload of the
// new position's record. The cursor never advances past a failed save,
// so the loader cannot observe a record an in-flight save has not
// finished writing.
//
// Guard rejections return sentinel errors (ErrTooSoon, ErrSaveInFlight,
// ErrIncompleteForm); a move against the worklist bounds is a silent
// no-op. Store failures come back wrapped and leave the session state
// intact so the user can simply retry.
func (s *Session) Move(ctx context.Context, category Category, dir Direction) error {
	if err := s.checkCategory(category); err != nil {
		return err
	}
	if s.inFlight[category] {
		return ErrSaveInFlight
	}
	if s.tooSoon(category) {
		return ErrTooSoon
	}
	if !s.form.Complete() {
		s.warning = true
		return ErrIncompleteForm
	}
	if !s.inBounds(category, dir) {
		return nil
	}

	s.inFlight[category] = true
	defer func() { s.inFlight[category] = false }()

	if err := s.saver.Save(ctx, s, s.saveScope()); err != nil {
		s.logger.Warn("save before move failed",
			"category", category.String(), "user", s.Username, "error", err)
		return err
	}

	s.advance(category, dir)
	s.form.Reset()
	s.loadCurrent()
	s.startedAt = s.now()
	return nil
}

// SetField applies one field-edit event: validate, mutate the form,
// then persist the partial state immediately so in-progress work
// survives an unexpected exit. A failed autosave is reported but does
// not touch the form or cursor.
func (s *Session) SetField(ctx context.Context, key, value string) error {
	if err := s.form.Set(key, value); err != nil {
		return err
	}
	if err := s.saver.Save(ctx, s, s.saveScope()); err != nil {
		s.logger.Warn("autosave failed",
			"user", s.Username, "field", key, "error", err)
		return err
	}
	return nil
}

// saveScope selects what one save persists: every view of the current
// study for clinicians (their judgment is per-study, replicated across
// views), a single image for data scientists.
func (s *Session) saveScope() Scope {
	if s.Role == domain.RoleClinician {
		return AllViewsInStudy
	}
	return SingleImage
}

func (s *Session) checkCategory(category Category) error {
	switch s.Role {
	case domain.RoleClinician:
		if category == CategoryDSImage {
			return ErrWrongCategory
		}
	case domain.RoleDataScientist:
		if category != CategoryDSImage {
			return ErrWrongCategory
		}
	}
	return nil
}

// tooSoon applies the per-category debounce. The timestamp is advanced
// on every call, rejected or not, matching double-click suppression.
func (s *Session) tooSoon(category Category) bool {
	now := s.now()
	last := s.lastNav[category]
	s.lastNav[category] = now
	return now.Sub(last) < s.minNavInterval
}

func (s *Session) inBounds(category Category, dir Direction) bool {
	idx, count := s.Position(category)
	target := idx + int(dir)
	return target >= 0 && target < count
}

func (s *Session) advance(category Category, dir Direction) {
	switch category {
	case CategoryStudy:
		s.studyIdx += int(dir)
		s.viewIdx = 0
	case CategoryView:
		s.viewIdx += int(dir)
	case CategoryDSImage:
		s.imageIdx += int(dir)
	}
}
