package domain

import "context"

// ImageRef identifies one image within the annotation worklist.
type ImageRef struct {
	StudyKey  string
	ImageID   string
	ImagePath string
}

// ImageMeta extends ImageRef with index metadata used by the
// presentation layer (windowing hints, provenance).
type ImageMeta struct {
	ImageRef
	SubjectKey   string
	SHA256       string
	WindowCenter *float64
	WindowWidth  *float64
	BitsStored   *int64
	Signed       *bool
}

// MetadataProvider defines the interface to the image index.
type MetadataProvider interface {
	// ImagesForUser returns the ordered worklist for a user. When
	// assignments exist in the index, the list is restricted to images
	// assigned to that user.
	ImagesForUser(ctx context.Context, username string, role Role) ([]ImageRef, error)

	// Lookup resolves index metadata for an image path. It returns
	// (nil, nil) when the path is not in the index.
	Lookup(ctx context.Context, imagePath string) (*ImageMeta, error)
}
