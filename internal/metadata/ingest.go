package metadata

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// IngestManifest loads a manifest CSV into the index. The manifest
// must carry study_icn, dicom_id and image_path columns; subject_icn,
// windowing hints and pre-existing assignments are picked up when
// present. Rows are upserted by image_path, so re-ingesting a manifest
// refreshes metadata without disturbing assignments made since.
//
// When hashFiles is true and an image file is readable, its SHA-256 is
// recorded for provenance checks.
func (p *Provider) IngestManifest(ctx context.Context, r io.Reader, hashFiles bool) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return 0, fmt.Errorf("while reading manifest header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, col := range header {
		index[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, required := range []string{"study_icn", "dicom_id", "image_path"} {
		if _, ok := index[required]; !ok {
			return 0, fmt.Errorf("manifest is missing required column %q", required)
		}
	}
	cell := func(row []string, col string) string {
		i, ok := index[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("while starting ingest transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO images (image_path, subject_icn, study_icn, dicom_id, sha256,
                    window_center, window_width, bits_stored, pixel_representation,
                    assigned_clinician, assigned_ds, ord)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(image_path) DO UPDATE SET
    subject_icn = excluded.subject_icn,
    study_icn = excluded.study_icn,
    dicom_id = excluded.dicom_id,
    sha256 = COALESCE(excluded.sha256, images.sha256),
    window_center = excluded.window_center,
    window_width = excluded.window_width,
    bits_stored = excluded.bits_stored,
    pixel_representation = excluded.pixel_representation,
    ord = excluded.ord`)
	if err != nil {
		return 0, fmt.Errorf("while preparing ingest statement: %w", err)
	}
	defer stmt.Close()

	count := 0
	for ord := 0; ; ord++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("while reading manifest row %d: %w", ord+2, err)
		}
		imagePath := cell(row, "image_path")
		if imagePath == "" {
			p.logger.Warn("skipping manifest row without image_path", "row", ord+2)
			continue
		}

		var sha any
		if hashFiles {
			if h, err := hashFile(imagePath); err == nil {
				sha = h
			} else {
				p.logger.Warn("could not hash image file", "path", imagePath, "error", err)
			}
		}

		_, err = stmt.ExecContext(ctx,
			imagePath,
			nullable(cell(row, "subject_icn")),
			cell(row, "study_icn"),
			cell(row, "dicom_id"),
			sha,
			nullableFloat(cell(row, "window_center")),
			nullableFloat(cell(row, "window_width")),
			nullableInt(cell(row, "bits_stored")),
			nullableInt(cell(row, "pixel_representation")),
			nullable(cell(row, "assignedclinician")),
			nullable(cell(row, "assignedds")),
			ord,
		)
		if err != nil {
			return 0, fmt.Errorf("while upserting %s: %w", imagePath, err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("while committing ingest: %w", err)
	}
	return count, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableFloat(s string) any {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return v
}

func nullableInt(s string) any {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return v
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}
