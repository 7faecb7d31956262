package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/ardsquest/cxr-annotator/internal/domain"
	"github.com/ardsquest/cxr-annotator/internal/schema"
)

// timestampLayout is ISO-8601 with second precision, matching the
// Python-era files so exported tables stay joinable.
const timestampLayout = "2006-01-02T15:04:05"

// columnsFor returns the full persisted column order for a role: the
// shared identity columns, the role-suffixed authorship columns, then
// the schema fields in form order.
func columnsFor(role domain.Role) []string {
	sfx := role.Suffix()
	cols := []string{
		"AnnotationID",
		"Timestamp_" + sfx,
		"Username_" + sfx,
		"UserRole_" + sfx,
		"AnnotationElapsedTime_sec_" + sfx,
		"study_icn",
		"dicom_id",
		"image_path",
	}
	return append(cols, schema.Columns(role)...)
}

// Table renders records as a header row followed by one row per record,
// in the persisted column order for the role.
func Table(role domain.Role, records []*domain.Annotation) [][]string {
	cols := columnsFor(role)
	sfx := role.Suffix()
	table := make([][]string, 0, len(records)+1)
	table = append(table, cols)
	for _, r := range records {
		row := make(map[string]string, len(cols))
		row["AnnotationID"] = r.AnnotationID
		row["Timestamp_"+sfx] = r.Timestamp.Format(timestampLayout)
		row["Username_"+sfx] = r.Username
		row["UserRole_"+sfx] = string(r.Role)
		if r.ElapsedSec != nil {
			row["AnnotationElapsedTime_sec_"+sfx] = strconv.FormatFloat(*r.ElapsedSec, 'f', -1, 64)
		}
		row["study_icn"] = r.StudyKey
		row["dicom_id"] = r.ImageID
		row["image_path"] = r.ImagePath
		for col, v := range r.Fields {
			row[col] = v
		}
		cells := make([]string, len(cols))
		for i, col := range cols {
			cells[i] = row[col]
		}
		table = append(table, cells)
	}
	return table
}

func writeTable(w io.Writer, role domain.Role, records []*domain.Annotation) error {
	return csv.NewWriter(w).WriteAll(Table(role, records))
}

func readTable(r io.Reader, role domain.Role) ([]*domain.Annotation, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("while reading header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, col := range header {
		index[col] = i
	}

	cell := func(row []string, col string) string {
		i, ok := index[col]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	sfx := role.Suffix()
	fieldCols := schema.Columns(role)
	var records []*domain.Annotation
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("while reading row %d: %w", len(records)+2, err)
		}
		rec := &domain.Annotation{
			AnnotationID: cell(row, "AnnotationID"),
			Username:     cell(row, "Username_"+sfx),
			Role:         role,
			StudyKey:     cell(row, "study_icn"),
			ImageID:      cell(row, "dicom_id"),
			ImagePath:    cell(row, "image_path"),
			Fields:       make(map[string]string, len(fieldCols)),
		}
		if ts := cell(row, "Timestamp_"+sfx); ts != "" {
			t, err := time.Parse(timestampLayout, ts)
			if err == nil {
				rec.Timestamp = t
			}
		}
		if es := cell(row, "AnnotationElapsedTime_sec_"+sfx); es != "" {
			if v, err := strconv.ParseFloat(es, 64); err == nil {
				rec.ElapsedSec = &v
			}
		}
		for _, col := range fieldCols {
			if v := cell(row, col); v != "" {
				rec.Fields[col] = v
			}
		}
		records = append(records, rec)
	}
	return records, nil
}
