package metadata

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/ardsquest/cxr-annotator/internal/domain"
)

const testManifest = `study_icn,dicom_id,image_path,subject_icn,window_center,window_width,bits_stored,pixel_representation
S1,d1,/img/s1-frontal.dcm,P1,2048,4096,12,0
S1,d2,/img/s1-lateral.dcm,P1,2048,4096,12,0
S2,d3,/img/s2-frontal.dcm,P2,1024,2048,10,1
S3,d4,/img/s3-frontal.dcm,P1,,,,
`

func setupTestProvider(t *testing.T) (*Provider, context.Context) {
	t.Helper()
	p, err := Open(":memory:", slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("failed to open test index: %v", err)
	}
	t.Cleanup(func() {
		if err := p.Close(); err != nil {
			t.Errorf("failed to close test index: %v", err)
		}
	})
	return p, context.Background()
}

func mustIngest(t *testing.T, p *Provider, ctx context.Context, manifest string) int {
	t.Helper()
	n, err := p.IngestManifest(ctx, strings.NewReader(manifest), false)
	if err != nil {
		t.Fatalf("IngestManifest() error = %v", err)
	}
	return n
}

func TestProvider_Ingest(t *testing.T) {
	p, ctx := setupTestProvider(t)

	n := mustIngest(t, p, ctx, testManifest)
	if n != 4 {
		t.Errorf("IngestManifest() = %d rows, want 4", n)
	}
	count, err := p.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 4 {
		t.Errorf("Count() = %d, want 4", count)
	}

	t.Run("re-ingest is an upsert", func(t *testing.T) {
		mustIngest(t, p, ctx, testManifest)
		count, _ := p.Count(ctx)
		if count != 4 {
			t.Errorf("Count() after re-ingest = %d, want 4", count)
		}
	})

	t.Run("missing required column fails", func(t *testing.T) {
		_, err := p.IngestManifest(ctx, strings.NewReader("study_icn,dicom_id\nS1,d1\n"), false)
		if err == nil {
			t.Error("IngestManifest() should reject a manifest without image_path")
		}
	})
}

func TestProvider_ImagesForUser(t *testing.T) {
	p, ctx := setupTestProvider(t)
	mustIngest(t, p, ctx, testManifest)

	t.Run("whole manifest while unassigned", func(t *testing.T) {
		refs, err := p.ImagesForUser(ctx, "anyone", domain.RoleDataScientist)
		if err != nil {
			t.Fatalf("ImagesForUser() error = %v", err)
		}
		if len(refs) != 4 {
			t.Fatalf("Got %d images, want 4", len(refs))
		}
		if refs[0].ImagePath != "/img/s1-frontal.dcm" {
			t.Errorf("First image = %s, want manifest order preserved", refs[0].ImagePath)
		}
	})

	t.Run("narrowed after assignment", func(t *testing.T) {
		err := p.AssignUsers(ctx, []string{"carla"}, []string{"dave", "dana"}, 42)
		if err != nil {
			t.Fatalf("AssignUsers() error = %v", err)
		}

		daveRefs, err := p.ImagesForUser(ctx, "dave", domain.RoleDataScientist)
		if err != nil {
			t.Fatalf("ImagesForUser() error = %v", err)
		}
		danaRefs, _ := p.ImagesForUser(ctx, "dana", domain.RoleDataScientist)
		if len(daveRefs)+len(danaRefs) != 4 {
			t.Errorf("DS shares cover %d images, want 4", len(daveRefs)+len(danaRefs))
		}
		if len(daveRefs) != 2 || len(danaRefs) != 2 {
			t.Errorf("Round-robin split = %d/%d, want 2/2", len(daveRefs), len(danaRefs))
		}

		clRefs, err := p.ImagesForUser(ctx, "carla", domain.RoleClinician)
		if err != nil {
			t.Fatalf("ImagesForUser() error = %v", err)
		}
		if len(clRefs) != 4 {
			t.Errorf("Sole clinician holds %d images, want all 4", len(clRefs))
		}

		stranger, _ := p.ImagesForUser(ctx, "mallory", domain.RoleDataScientist)
		if len(stranger) != 0 {
			t.Errorf("Unassigned user got %d images, want 0", len(stranger))
		}
	})
}

func TestProvider_AssignUsersBySubject(t *testing.T) {
	p, ctx := setupTestProvider(t)
	mustIngest(t, p, ctx, testManifest)

	if err := p.AssignUsers(ctx, []string{"carla", "chen"}, []string{"dave"}, 7); err != nil {
		t.Fatalf("AssignUsers() error = %v", err)
	}

	// Subject P1 spans studies S1 and S3; one clinician must hold both.
	rows, err := p.db.QueryContext(ctx,
		`SELECT DISTINCT assigned_clinician FROM images WHERE subject_icn = 'P1'`)
	if err != nil {
		t.Fatalf("query error: %v", err)
	}
	defer rows.Close()
	var assignees []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			t.Fatal(err)
		}
		assignees = append(assignees, a)
	}
	if len(assignees) != 1 {
		t.Errorf("Subject P1 assigned to %d clinicians, want exactly 1", len(assignees))
	}

	t.Run("empty pools rejected", func(t *testing.T) {
		if err := p.AssignUsers(ctx, nil, []string{"dave"}, 7); err == nil {
			t.Error("AssignUsers() should reject an empty clinician pool")
		}
	})
}

func TestProvider_Lookup(t *testing.T) {
	p, ctx := setupTestProvider(t)
	mustIngest(t, p, ctx, testManifest)

	t.Run("resolves windowing hints", func(t *testing.T) {
		meta, err := p.Lookup(ctx, "/img/s2-frontal.dcm")
		if err != nil {
			t.Fatalf("Lookup() error = %v", err)
		}
		if meta == nil {
			t.Fatal("Expected metadata, got nil")
		}
		if meta.StudyKey != "S2" || meta.ImageID != "d3" || meta.SubjectKey != "P2" {
			t.Errorf("Identity = (%s, %s, %s), want (S2, d3, P2)",
				meta.StudyKey, meta.ImageID, meta.SubjectKey)
		}
		if meta.WindowCenter == nil || *meta.WindowCenter != 1024 {
			t.Errorf("WindowCenter = %v, want 1024", meta.WindowCenter)
		}
		if meta.Signed == nil || !*meta.Signed {
			t.Error("Signed should be true for pixel_representation = 1")
		}
	})

	t.Run("absent hints stay nil", func(t *testing.T) {
		meta, err := p.Lookup(ctx, "/img/s3-frontal.dcm")
		if err != nil {
			t.Fatalf("Lookup() error = %v", err)
		}
		if meta.WindowCenter != nil || meta.BitsStored != nil || meta.Signed != nil {
			t.Error("Hints should be nil when the manifest leaves them empty")
		}
	})

	t.Run("unknown path returns nil without error", func(t *testing.T) {
		meta, err := p.Lookup(ctx, "/img/never-seen.dcm")
		if err != nil {
			t.Fatalf("Lookup() error = %v", err)
		}
		if meta != nil {
			t.Error("Expected nil for an unindexed path")
		}
	})
}
