package match

import (
	"context"
	"errors"
	"sort"

	"github.com/sirupsen/logrus"
)

// Evaluation is the full diagnostic for one gallery entry.
type Evaluation struct {
	GalleryEntryID string           `json:"gallery_entry_id"`
	Sample         ScoreSample      `json:"sample"`
	Enhanced       *EnhancedResult  `json:"enhanced,omitempty"`
	Geometry       *GeometryVerdict `json:"geometry,omitempty"`
	Accepted       bool             `json:"accepted"`
	AcceptedBy     AcceptedBy       `json:"accepted_by,omitempty"`
	Vetoed         bool             `json:"vetoed"`
}

// Report is the result of matching one query against a gallery.
type Report struct {
	PersonID    string         `json:"person_id"`
	Outcomes    []MatchOutcome `json:"outcomes"`
	Evaluations []Evaluation   `json:"evaluations"`
	Vetoed      []string       `json:"vetoed,omitempty"`
}

// Matched reports whether at least one outcome survived.
func (r *Report) Matched() bool {
	return len(r.Outcomes) > 0
}

// GalleryIDs returns the ids of the accepted gallery entries in gallery order.
func (r *Report) GalleryIDs() []string {
	ids := make([]string, len(r.Outcomes))
	for i, o := range r.Outcomes {
		ids[i] = o.GalleryEntryID
	}
	return ids
}

// MatcherOptions tunes the gallery matcher.
type MatcherOptions struct {
	// GeometryOnEnhanced also runs the geometric veto on ensemble-accepted pairs.
	GeometryOnEnhanced bool
}

// Matcher matches a query against a whole gallery.
type Matcher struct {
	classifier *Classifier
	ensemble   *Ensemble
	geometry   *GeometryVerifier
	opts       MatcherOptions
}

// NewMatcher creates a Matcher. geometry may be nil, in which case no veto is applied.
func NewMatcher(classifier *Classifier, ensemble *Ensemble, geometry *GeometryVerifier, opts MatcherOptions) (*Matcher, error) {
	if classifier == nil {
		return nil, errors.New("classifier not configured")
	}
	if ensemble == nil {
		return nil, errors.New("ensemble not configured")
	}
	return &Matcher{
		classifier: classifier,
		ensemble:   ensemble,
		geometry:   geometry,
		opts:       opts,
	}, nil
}

// MatchAgainstGallery classifies every entry, resolves gray-zone pairs with the
// ensemble when nothing was definite, and applies the geometric veto. Outcomes
// are returned in gallery order. A cancelled context aborts with ctx.Err().
func (m *Matcher) MatchAgainstGallery(ctx context.Context, personID string, query FaceImage, gallery []GalleryEntry) (*Report, error) {
	log := matchLog().WithField("person_id", personID)

	report := &Report{
		PersonID:    personID,
		Evaluations: make([]Evaluation, len(gallery)),
	}

	var definite, gray []int
	for i, entry := range gallery {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sample := m.classifier.Classify(ctx, query, entry.Image)
		report.Evaluations[i] = Evaluation{GalleryEntryID: entry.ID, Sample: sample}

		switch sample.Classification {
		case Definite:
			definite = append(definite, i)
		case GrayZone:
			gray = append(gray, i)
		}
	}

	switch {
	case len(definite) > 0:
		for _, i := range definite {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			ev := &report.Evaluations[i]
			ev.Accepted = true
			ev.AcceptedBy = AcceptedByCascade
			m.veto(ctx, query, gallery[i], ev)
		}

	case len(gray) > 0:
		// Most likely candidates first.
		sort.SliceStable(gray, func(x, y int) bool {
			return report.Evaluations[gray[x]].Sample.PrimaryScore > report.Evaluations[gray[y]].Sample.PrimaryScore
		})
		for _, i := range gray {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			ev := &report.Evaluations[i]
			res := m.ensemble.Verify(ctx, query, gallery[i].Image)
			ev.Enhanced = &res
			if !res.Accepted {
				continue
			}
			ev.Accepted = true
			ev.AcceptedBy = AcceptedByEnsemble
			if m.opts.GeometryOnEnhanced {
				m.veto(ctx, query, gallery[i], ev)
			}
		}
	}

	for _, ev := range report.Evaluations {
		if ev.Vetoed {
			report.Vetoed = append(report.Vetoed, ev.GalleryEntryID)
		}
		if !ev.Accepted {
			continue
		}
		sample := ev.Sample
		if ev.AcceptedBy == AcceptedByEnsemble {
			sample.CompositeScore = ev.Enhanced.Composite
		}
		report.Outcomes = append(report.Outcomes, MatchOutcome{
			PersonID:       personID,
			GalleryEntryID: ev.GalleryEntryID,
			Sample:         sample,
			AcceptedBy:     ev.AcceptedBy,
		})
	}

	log.WithFields(logrus.Fields{
		"gallery":  len(gallery),
		"definite": len(definite),
		"gray":     len(gray),
		"accepted": len(report.Outcomes),
		"vetoed":   len(report.Vetoed),
	}).Debug("Gallery matched")

	return report, nil
}

// veto runs the geometric verifier on an accepted evaluation.
func (m *Matcher) veto(ctx context.Context, query FaceImage, entry GalleryEntry, ev *Evaluation) {
	if m.geometry == nil {
		return
	}
	verdict := m.geometry.VerifyStructure(ctx, query, entry.Image)
	ev.Geometry = &verdict
	if verdict.Status.Vetoes() {
		ev.Accepted = false
		ev.AcceptedBy = ""
		ev.Vetoed = true
		matchLog().WithFields(logrus.Fields{
			"gallery_id": entry.ID,
			"similarity": verdict.Similarity,
		}).Debug("Geometric veto")
	}
}
