package attendance

import (
	"context"
	"sync"
	"time"

	"github.com/MrCodeEU/facecheck/pkg/match"
)

type MockGallery struct {
	GalleryFunc func(ctx context.Context, orgID string) ([]match.GalleryEntry, error)
}

func (m *MockGallery) Gallery(ctx context.Context, orgID string) ([]match.GalleryEntry, error) {
	if m.GalleryFunc != nil {
		return m.GalleryFunc(ctx, orgID)
	}
	return nil, nil
}

type MockDirectory struct {
	PeopleFunc func(ctx context.Context, orgID string) ([]Person, error)
}

func (m *MockDirectory) People(ctx context.Context, orgID string) ([]Person, error) {
	if m.PeopleFunc != nil {
		return m.PeopleFunc(ctx, orgID)
	}
	return nil, nil
}

type MockFetcher struct {
	FetchFunc func(ctx context.Context, ref string) (match.FaceImage, error)
}

func (m *MockFetcher) Fetch(ctx context.Context, ref string) (match.FaceImage, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, ref)
	}
	return match.NewFaceImage(ref, 1, 1, []byte(ref)), nil
}

type MockMatcher struct {
	MatchFunc func(ctx context.Context, personID string, query match.FaceImage, gallery []match.GalleryEntry) (*match.Report, error)
}

func (m *MockMatcher) MatchAgainstGallery(ctx context.Context, personID string, query match.FaceImage, gallery []match.GalleryEntry) (*match.Report, error) {
	if m.MatchFunc != nil {
		return m.MatchFunc(ctx, personID, query, gallery)
	}
	return &match.Report{PersonID: personID}, nil
}

type presenceCall struct {
	OrgID    string
	PersonID string
	Present  bool
}

type MockSink struct {
	Err                error
	RecordPresenceFunc func(ctx context.Context, personID string) error

	mu    sync.Mutex
	calls []presenceCall
}

func (m *MockSink) RecordPresence(ctx context.Context, orgID, personID string, present bool, _ time.Time) error {
	if m.RecordPresenceFunc != nil {
		if err := m.RecordPresenceFunc(ctx, personID); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, presenceCall{OrgID: orgID, PersonID: personID, Present: present})
	return m.Err
}

func (m *MockSink) Calls() []presenceCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]presenceCall(nil), m.calls...)
}

type MockRecorder struct {
	mu   sync.Mutex
	runs []*RunResult
}

func (m *MockRecorder) RecordRun(ctx context.Context, r *RunResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
	return nil
}

func (m *MockRecorder) Runs() []*RunResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*RunResult(nil), m.runs...)
}

func entries(ids ...string) []match.GalleryEntry {
	out := make([]match.GalleryEntry, len(ids))
	for i, id := range ids {
		out[i] = match.GalleryEntry{ID: id, Image: match.NewFaceImage(id, 1, 1, []byte(id))}
	}
	return out
}

func person(id, first, last string) Person {
	return Person{ID: id, FirstName: first, LastName: last, ImageRefs: []string{id + ".jpg"}}
}

// claims builds a matcher that accepts the given gallery ids per person.
func claims(byPerson map[string][]string) *MockMatcher {
	return &MockMatcher{
		MatchFunc: func(_ context.Context, personID string, _ match.FaceImage, _ []match.GalleryEntry) (*match.Report, error) {
			r := &match.Report{PersonID: personID}
			for _, id := range byPerson[personID] {
				r.Outcomes = append(r.Outcomes, match.MatchOutcome{
					PersonID:       personID,
					GalleryEntryID: id,
					AcceptedBy:     match.AcceptedByCascade,
				})
			}
			return r, nil
		},
	}
}

type harness struct {
	gallery  *MockGallery
	people   *MockDirectory
	fetcher  *MockFetcher
	matcher  *MockMatcher
	sink     *MockSink
	recorder *MockRecorder
}

func newHarness(gallery []match.GalleryEntry, people []Person, matcher *MockMatcher) *harness {
	return &harness{
		gallery: &MockGallery{GalleryFunc: func(context.Context, string) ([]match.GalleryEntry, error) {
			return gallery, nil
		}},
		people: &MockDirectory{PeopleFunc: func(context.Context, string) ([]Person, error) {
			return people, nil
		}},
		fetcher:  &MockFetcher{},
		matcher:  matcher,
		sink:     &MockSink{},
		recorder: &MockRecorder{},
	}
}

func (h *harness) reconciler(workers int) *Reconciler {
	r, err := NewReconciler(Dependencies{
		Gallery:  h.gallery,
		People:   h.people,
		Fetcher:  h.fetcher,
		Matcher:  h.matcher,
		Sink:     h.sink,
		Recorder: h.recorder,
	}, workers)
	if err != nil {
		panic(err)
	}
	return r
}
