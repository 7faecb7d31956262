package metadata

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
)

// AssignUsers distributes the worklist: data scientists round-robin
// per image, clinicians round-robin per subject so one clinician reads
// every study of a subject. Both pools are shuffled first; a fixed seed
// makes the distribution reproducible.
func (p *Provider) AssignUsers(ctx context.Context, clinicians, dataScientists []string, seed int64) error {
	if len(clinicians) == 0 || len(dataScientists) == 0 {
		return errors.New("no clinicians or data scientists to assign")
	}

	rng := rand.New(rand.NewSource(seed))
	cl := append([]string(nil), clinicians...)
	ds := append([]string(nil), dataScientists...)
	rng.Shuffle(len(cl), func(i, j int) { cl[i], cl[j] = cl[j], cl[i] })
	rng.Shuffle(len(ds), func(i, j int) { ds[i], ds[j] = ds[j], ds[i] })

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("while starting assignment transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
SELECT image_path, COALESCE(NULLIF(subject_icn, ''), study_icn)
FROM images ORDER BY ord, rowid`)
	if err != nil {
		return fmt.Errorf("while listing images for assignment: %w", err)
	}
	type entry struct{ path, subject string }
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.path, &e.subject); err != nil {
			rows.Close()
			return err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	subjectToClinician := make(map[string]string)
	nextClinician := 0
	nextDS := 0
	for _, e := range entries {
		if _, ok := subjectToClinician[e.subject]; !ok {
			subjectToClinician[e.subject] = cl[nextClinician%len(cl)]
			nextClinician++
		}
		_, err := tx.ExecContext(ctx, `
UPDATE images SET assigned_clinician = ?, assigned_ds = ? WHERE image_path = ?`,
			subjectToClinician[e.subject], ds[nextDS%len(ds)], e.path)
		if err != nil {
			return fmt.Errorf("while assigning %s: %w", e.path, err)
		}
		nextDS++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("while committing assignments: %w", err)
	}
	p.logger.Info("assigned worklist",
		"images", len(entries), "clinicians", len(cl), "data_scientists", len(ds))
	return nil
}
