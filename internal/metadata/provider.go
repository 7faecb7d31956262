// Package metadata implements the image metadata provider on a SQLite
// index. The index is populated from a manifest export and answers two
// questions for the core: which images a user works through, and what
// is known about one image (identity, provenance, windowing hints).
package metadata

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/ardsquest/cxr-annotator/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Provider serves image metadata from the SQLite index.
type Provider struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the index at path and applies pending schema
// migrations.
func Open(path string, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("while opening metadata index %s: %w", path, err)
	}
	// SQLite allows one writer; a second pooled connection would also
	// split :memory: databases apart.
	db.SetMaxOpenConns(1)
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("while migrating metadata index %s: %w", path, err)
	}
	return &Provider{db: db, logger: logger}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close closes the underlying database.
func (p *Provider) Close() error {
	return p.db.Close()
}

// Count returns the number of indexed images.
func (p *Provider) Count(ctx context.Context) (int64, error) {
	var n int64
	err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM images`).Scan(&n)
	return n, err
}

// ImagesForUser returns the ordered worklist for a user. While the
// index carries no assignments the whole manifest is every user's
// worklist; once any image is assigned for the role, the list narrows
// to that user's share.
func (p *Provider) ImagesForUser(ctx context.Context, username string, role domain.Role) ([]domain.ImageRef, error) {
	col := "assigned_ds"
	if role == domain.RoleClinician {
		col = "assigned_clinician"
	}

	var assigned int64
	q := fmt.Sprintf(`SELECT count(*) FROM images WHERE %s IS NOT NULL AND %s != ''`, col, col)
	if err := p.db.QueryRowContext(ctx, q).Scan(&assigned); err != nil {
		return nil, fmt.Errorf("while counting assignments: %w", err)
	}

	query := `SELECT study_icn, dicom_id, image_path FROM images ORDER BY ord, rowid`
	var args []any
	if assigned > 0 {
		query = fmt.Sprintf(`SELECT study_icn, dicom_id, image_path FROM images WHERE %s = ? ORDER BY ord, rowid`, col)
		args = append(args, username)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("while listing images for %s: %w", username, err)
	}
	defer rows.Close()

	var refs []domain.ImageRef
	for rows.Next() {
		var ref domain.ImageRef
		if err := rows.Scan(&ref.StudyKey, &ref.ImageID, &ref.ImagePath); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// Lookup resolves index metadata for an image path. It returns
// (nil, nil) when the path is not indexed; callers report that as a
// missing-metadata condition without crashing navigation.
func (p *Provider) Lookup(ctx context.Context, imagePath string) (*domain.ImageMeta, error) {
	row := p.db.QueryRowContext(ctx, `
SELECT subject_icn, study_icn, dicom_id, image_path, sha256,
       window_center, window_width, bits_stored, pixel_representation
FROM images WHERE image_path = ?`, imagePath)

	var meta domain.ImageMeta
	var subject, sha sql.NullString
	var wc, ww sql.NullFloat64
	var bits, pixRep sql.NullInt64
	err := row.Scan(&subject, &meta.StudyKey, &meta.ImageID, &meta.ImagePath,
		&sha, &wc, &ww, &bits, &pixRep)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("while looking up %s: %w", imagePath, err)
	}
	meta.SubjectKey = subject.String
	meta.SHA256 = sha.String
	if wc.Valid {
		meta.WindowCenter = &wc.Float64
	}
	if ww.Valid {
		meta.WindowWidth = &ww.Float64
	}
	if bits.Valid {
		meta.BitsStored = &bits.Int64
	}
	if pixRep.Valid {
		signed := pixRep.Int64 == 1
		meta.Signed = &signed
	}
	return &meta, nil
}

// Verify that Provider implements domain.MetadataProvider
var _ domain.MetadataProvider = (*Provider)(nil)
