// Package attendance reconciles an organization's people against the faces
// found in its current camera gallery and records who is present.
package attendance

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrCodeEU/facecheck/pkg/match"
)

// Person is a member of an organization with one or more reference photos.
type Person struct {
	ID        string   `yaml:"id" json:"id"`
	FirstName string   `yaml:"first_name" json:"first_name"`
	LastName  string   `yaml:"last_name" json:"last_name"`
	Type      string   `yaml:"type,omitempty" json:"type,omitempty"`
	ClassName string   `yaml:"class,omitempty" json:"class,omitempty"`
	ImageRefs []string `yaml:"images" json:"images"`
}

// FullName returns "First Last".
func (p Person) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// ReferenceRef returns the primary reference image, or "" when there is none.
func (p Person) ReferenceRef() string {
	if len(p.ImageRefs) == 0 {
		return ""
	}
	return p.ImageRefs[0]
}

// GalleryProvider returns the current gallery of an organization.
type GalleryProvider interface {
	Gallery(ctx context.Context, orgID string) ([]match.GalleryEntry, error)
}

// PersonDirectory lists the people of an organization.
type PersonDirectory interface {
	People(ctx context.Context, orgID string) ([]Person, error)
}

// ReferenceFetcher loads a reference image.
type ReferenceFetcher interface {
	Fetch(ctx context.Context, ref string) (match.FaceImage, error)
}

// PresenceSink records the presence of one person. It is called once per
// person per completed run.
type PresenceSink interface {
	RecordPresence(ctx context.Context, orgID, personID string, present bool, at time.Time) error
}

// RunRecorder stores the result of a completed run.
type RunRecorder interface {
	RecordRun(ctx context.Context, result *RunResult) error
}

// GalleryMatcher matches one query against a gallery. *match.Matcher implements it.
type GalleryMatcher interface {
	MatchAgainstGallery(ctx context.Context, personID string, query match.FaceImage, gallery []match.GalleryEntry) (*match.Report, error)
}

var (
	// ErrUnknownOrganization is returned by providers for an organization they do not know.
	ErrUnknownOrganization = errors.New("unknown organization")

	// ErrEmptyGallery fails a run whose gallery has no entries.
	ErrEmptyGallery = errors.New("gallery is empty")

	// ErrNoPeople fails a run for an organization without people.
	ErrNoPeople = errors.New("no people to check")

	// ErrPersonNotFound is returned when a requested person is not in the directory.
	ErrPersonNotFound = errors.New("person not found")

	// ErrNoReferenceImage marks a person without a reference photo.
	ErrNoReferenceImage = errors.New("person has no reference image")
)
