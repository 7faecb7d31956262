package session

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/go-git/go-billy/v6/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardsquest/cxr-annotator/internal/domain"
	"github.com/ardsquest/cxr-annotator/internal/schema"
	"github.com/ardsquest/cxr-annotator/internal/store"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 7, 18, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// trackingStore counts upserts and can inject failures.
type trackingStore struct {
	domain.AnnotationStore
	upserts int
	fail    error
}

func (t *trackingStore) Upsert(ctx context.Context, filename string, records []*domain.Annotation) ([]*domain.Annotation, error) {
	t.upserts++
	if t.fail != nil {
		return nil, t.fail
	}
	return t.AnnotationStore.Upsert(ctx, filename, records)
}

func clinicianWorklist() []domain.ImageRef {
	return []domain.ImageRef{
		{StudyKey: "S1", ImageID: "d1", ImagePath: "/img/s1-frontal.dcm"},
		{StudyKey: "S1", ImageID: "d2", ImagePath: "/img/s1-lateral.dcm"},
		{StudyKey: "S2", ImageID: "d3", ImagePath: "/img/s2-frontal.dcm"},
	}
}

func setupSession(t *testing.T, role domain.Role) (*Session, *trackingStore, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	logger := slog.New(slog.DiscardHandler)
	st := &trackingStore{
		AnnotationStore: store.New(memfs.New(), logger),
	}
	sess, err := New("bob", role, clinicianWorklist(), st, logger, WithClock(clk.Now))
	require.NoError(t, err)
	return sess, st, clk
}

// fillForm sets every schema field, advancing the clock between edits.
func fillForm(t *testing.T, sess *Session, clk *fakeClock) {
	t.Helper()
	for _, f := range schema.Fields(sess.Role) {
		clk.Advance(time.Second)
		require.NoError(t, sess.SetField(context.Background(), f.Key, f.Options[0]))
	}
}

func TestNew(t *testing.T) {
	t.Run("rejects empty worklist", func(t *testing.T) {
		_, err := New("bob", domain.RoleClinician, nil,
			store.New(memfs.New(), nil), nil)
		assert.Error(t, err)
	})

	t.Run("rejects unknown role", func(t *testing.T) {
		_, err := New("bob", domain.Role("Admin"), clinicianWorklist(),
			store.New(memfs.New(), nil), nil)
		assert.Error(t, err)
	})

	t.Run("groups images by study in worklist order", func(t *testing.T) {
		sess, _, _ := setupSession(t, domain.RoleClinician)
		idx, count := sess.Position(CategoryStudy)
		assert.Equal(t, 0, idx)
		assert.Equal(t, 2, count)
		_, views := sess.Position(CategoryView)
		assert.Equal(t, 2, views)
	})
}

func TestFormState(t *testing.T) {
	form := NewFormState(domain.RoleDataScientist)

	t.Run("rejects unknown field", func(t *testing.T) {
		assert.ErrorIs(t, form.Set("nope", "Yes"), ErrUnknownField)
	})

	t.Run("rejects value outside allowed options", func(t *testing.T) {
		assert.ErrorIs(t, form.Set("intubated", "Maybe"), ErrInvalidOption)
		_, ok := form.Get("intubated")
		assert.False(t, ok, "rejected edit must not mutate the form")
	})

	t.Run("empty value clears the field", func(t *testing.T) {
		require.NoError(t, form.Set("intubated", "Yes"))
		require.NoError(t, form.Set("intubated", ""))
		_, ok := form.Get("intubated")
		assert.False(t, ok)
	})

	t.Run("stale stored option counts as set", func(t *testing.T) {
		form.Reset()
		form.Load(&domain.Annotation{Fields: map[string]string{
			"Intubated": "Unknown option from an older schema",
		}})
		v, ok := form.Get("intubated")
		assert.True(t, ok)
		assert.Equal(t, "Unknown option from an older schema", v)
	})

	t.Run("complete only when every field is set", func(t *testing.T) {
		form.Reset()
		fields := schema.Fields(domain.RoleDataScientist)
		for _, f := range fields[:len(fields)-1] {
			require.NoError(t, form.Set(f.Key, f.Options[0]))
		}
		assert.False(t, form.Complete())
		last := fields[len(fields)-1]
		require.NoError(t, form.Set(last.Key, last.Options[0]))
		assert.True(t, form.Complete())
	})
}

func TestMove_IncompleteFormBlocks(t *testing.T) {
	sess, st, _ := setupSession(t, domain.RoleDataScientist)

	err := sess.Move(context.Background(), CategoryDSImage, Next)
	assert.ErrorIs(t, err, ErrIncompleteForm)

	idx, _ := sess.Position(CategoryDSImage)
	assert.Equal(t, 0, idx, "cursor must not move on incomplete form")
	assert.True(t, sess.ConsumeWarning())
	assert.False(t, sess.ConsumeWarning(), "warning is consumed once")
	assert.Equal(t, 0, st.upserts, "guard rejection must not save")
}

func TestMove_Bounds(t *testing.T) {
	sess, _, clk := setupSession(t, domain.RoleDataScientist)
	fillForm(t, sess, clk)

	t.Run("prev at index 0 is a no-op", func(t *testing.T) {
		clk.Advance(2 * time.Second)
		require.NoError(t, sess.Move(context.Background(), CategoryDSImage, Prev))
		idx, _ := sess.Position(CategoryDSImage)
		assert.Equal(t, 0, idx)
	})

	t.Run("next at the last index is a no-op", func(t *testing.T) {
		for {
			idx, count := sess.Position(CategoryDSImage)
			if idx == count-1 {
				break
			}
			fillForm(t, sess, clk)
			clk.Advance(2 * time.Second)
			require.NoError(t, sess.Move(context.Background(), CategoryDSImage, Next))
		}
		fillForm(t, sess, clk)
		clk.Advance(2 * time.Second)
		require.NoError(t, sess.Move(context.Background(), CategoryDSImage, Next))
		idx, count := sess.Position(CategoryDSImage)
		assert.Equal(t, count-1, idx)
	})
}

func TestMove_Debounce(t *testing.T) {
	sess, st, clk := setupSession(t, domain.RoleDataScientist)
	fillForm(t, sess, clk)
	savesBefore := st.upserts

	clk.Advance(2 * time.Second)
	require.NoError(t, sess.Move(context.Background(), CategoryDSImage, Next))

	clk.Advance(300 * time.Millisecond)
	err := sess.Move(context.Background(), CategoryDSImage, Next)
	assert.ErrorIs(t, err, ErrTooSoon)

	idx, _ := sess.Position(CategoryDSImage)
	assert.Equal(t, 1, idx, "two rapid clicks advance at most once")
	assert.Equal(t, savesBefore+1, st.upserts, "two rapid clicks save at most once")
}

func TestMove_SavesThenLoadsExisting(t *testing.T) {
	sess, _, clk := setupSession(t, domain.RoleDataScientist)
	ctx := context.Background()

	fillForm(t, sess, clk)
	require.NoError(t, sess.SetField(ctx, "view_present", "Lateral"))
	want := sess.Form().Values()

	clk.Advance(2 * time.Second)
	require.NoError(t, sess.Move(ctx, CategoryDSImage, Next))

	// Form resets for the new image; nothing was saved for it yet.
	assert.False(t, sess.Complete())
	assert.True(t, sess.ConsumeSaved())

	// Moving back restores the first image's record from the store.
	fillForm(t, sess, clk)
	clk.Advance(2 * time.Second)
	require.NoError(t, sess.Move(ctx, CategoryDSImage, Prev))
	assert.Equal(t, want, sess.Form().Values())
}

func TestMove_ClinicianStudySavesAllViews(t *testing.T) {
	sess, st, clk := setupSession(t, domain.RoleClinician)
	ctx := context.Background()

	fillForm(t, sess, clk)
	clk.Advance(2 * time.Second)
	require.NoError(t, sess.Move(ctx, CategoryStudy, Next))

	idx, _ := sess.Position(CategoryStudy)
	assert.Equal(t, 1, idx)
	viewIdx, _ := sess.Position(CategoryView)
	assert.Equal(t, 0, viewIdx, "view cursor resets when the study changes")

	// Both views of S1 carry the same replicated judgment.
	filename := store.Filename("bob", domain.RoleClinician, clk.Now())
	snapshot := st.Snapshot(filename, domain.RoleClinician)
	frontal := store.MostRecent(snapshot, "/img/s1-frontal.dcm", "bob")
	lateral := store.MostRecent(snapshot, "/img/s1-lateral.dcm", "bob")
	require.NotNil(t, frontal)
	require.NotNil(t, lateral)
	assert.Equal(t, frontal.Fields, lateral.Fields)
	assert.NotEqual(t, frontal.AnnotationID, lateral.AnnotationID)
}

func TestMove_ViewWithinStudy(t *testing.T) {
	sess, _, clk := setupSession(t, domain.RoleClinician)
	ctx := context.Background()

	fillForm(t, sess, clk)
	clk.Advance(2 * time.Second)
	require.NoError(t, sess.Move(ctx, CategoryView, Next))

	viewIdx, _ := sess.Position(CategoryView)
	assert.Equal(t, 1, viewIdx)
	studyIdx, _ := sess.Position(CategoryStudy)
	assert.Equal(t, 0, studyIdx)
	assert.Equal(t, "/img/s1-lateral.dcm", sess.CurrentImage().ImagePath)

	// The view record was saved with the study scope, so the lateral
	// view loads the judgment just recorded.
	assert.True(t, sess.Complete())
}

func TestMove_WrongCategory(t *testing.T) {
	clinician, _, _ := setupSession(t, domain.RoleClinician)
	assert.ErrorIs(t, clinician.Move(context.Background(), CategoryDSImage, Next), ErrWrongCategory)

	ds, _, _ := setupSession(t, domain.RoleDataScientist)
	assert.ErrorIs(t, ds.Move(context.Background(), CategoryStudy, Next), ErrWrongCategory)
	assert.ErrorIs(t, ds.Move(context.Background(), CategoryView, Next), ErrWrongCategory)
}

func TestMove_SaveFailureLeavesCursor(t *testing.T) {
	sess, st, clk := setupSession(t, domain.RoleDataScientist)
	fillForm(t, sess, clk)

	st.fail = errors.New("disk on fire")
	clk.Advance(2 * time.Second)
	err := sess.Move(context.Background(), CategoryDSImage, Next)
	assert.Error(t, err)

	idx, _ := sess.Position(CategoryDSImage)
	assert.Equal(t, 0, idx, "cursor must not advance past a failed save")
	assert.True(t, sess.Complete(), "form state is unaffected by a failed save")
}

func TestSetField_AutosavesPartial(t *testing.T) {
	sess, st, clk := setupSession(t, domain.RoleDataScientist)
	ctx := context.Background()

	clk.Advance(time.Second)
	require.NoError(t, sess.SetField(ctx, "intubated", "Yes"))
	assert.Equal(t, 1, st.upserts, "every field edit persists immediately")

	filename := store.Filename("bob", domain.RoleDataScientist, clk.Now())
	snapshot := st.Snapshot(filename, domain.RoleDataScientist)
	rec := store.MostRecent(snapshot, sess.CurrentImage().ImagePath, "bob")
	require.NotNil(t, rec)
	v, _ := rec.Field("Intubated")
	assert.Equal(t, "Yes", v)
	require.NotNil(t, rec.ElapsedSec)
	assert.InDelta(t, 1.0, *rec.ElapsedSec, 0.001)
}

func TestSetField_InvalidValueDoesNotSave(t *testing.T) {
	sess, st, _ := setupSession(t, domain.RoleDataScientist)
	err := sess.SetField(context.Background(), "intubated", "Maybe")
	assert.ErrorIs(t, err, ErrInvalidOption)
	assert.Equal(t, 0, st.upserts)
}
