package attendance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/MrCodeEU/facecheck/pkg/logging"
	"github.com/MrCodeEU/facecheck/pkg/match"
)

// DefaultWorkers is the default number of people matched concurrently.
const DefaultWorkers = 4

// Dependencies are the collaborators of a Reconciler. Recorder is optional.
type Dependencies struct {
	Gallery  GalleryProvider
	People   PersonDirectory
	Fetcher  ReferenceFetcher
	Matcher  GalleryMatcher
	Sink     PresenceSink
	Recorder RunRecorder
}

// RunOptions tunes a single run.
type RunOptions struct {
	// PersonIDs restricts the run to these people (id or name). Empty means everyone.
	PersonIDs []string
	// Workers overrides the reconciler's worker count when > 0.
	Workers int
	// OnPerson is called from the aggregating goroutine for every finished person.
	OnPerson func(PersonAttendanceResult)
	// OnStart is called with the number of people once matching begins.
	OnStart func(total int)
}

// Observer is notified of every state transition.
type Observer func(runID string, from, to State)

// Reconciler runs attendance checks for organizations.
type Reconciler struct {
	deps     Dependencies
	workers  int
	observer Observer
	now      func() time.Time
	newID    func() string
}

// NewReconciler creates a Reconciler.
func NewReconciler(deps Dependencies, workers int) (*Reconciler, error) {
	switch {
	case deps.Gallery == nil:
		return nil, errors.New("gallery provider not configured")
	case deps.People == nil:
		return nil, errors.New("person directory not configured")
	case deps.Fetcher == nil:
		return nil, errors.New("reference fetcher not configured")
	case deps.Matcher == nil:
		return nil, errors.New("gallery matcher not configured")
	case deps.Sink == nil:
		return nil, errors.New("presence sink not configured")
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Reconciler{
		deps:    deps,
		workers: workers,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}, nil
}

// SetObserver installs a transition observer.
func (r *Reconciler) SetObserver(o Observer) {
	r.observer = o
}

// run is the mutable state of one Run call. It is owned by the calling goroutine.
type run struct {
	r      *Reconciler
	result *RunResult
	log    *logrus.Entry
}

func (rn *run) transition(to State) {
	from := rn.result.State
	rn.result.State = to
	rn.log.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).Debug("Run state changed")
	if rn.r.observer != nil {
		rn.r.observer(rn.result.RunID, from, to)
	}
}

func (rn *run) fail(err error) (*RunResult, error) {
	rn.result.Reason = err.Error()
	rn.result.FinishedAt = rn.r.now()
	rn.transition(Failed)
	rn.log.WithError(err).Error("Attendance run failed")
	return rn.result, err
}

func (rn *run) cancel(err error) (*RunResult, error) {
	rn.result.Reason = err.Error()
	rn.result.FinishedAt = rn.r.now()
	rn.result.Summary = RunSummary{}
	rn.result.People = nil
	rn.transition(Cancelled)
	rn.log.Warn("Attendance run cancelled, nothing recorded")
	return rn.result, err
}

// Run checks every person of orgID against the organization's gallery.
//
// The returned RunResult is never nil. A precondition failure ends in Failed
// and a cancelled context in Cancelled; both also return an error. Presence
// and run records are only written once all people were matched.
func (r *Reconciler) Run(ctx context.Context, orgID string, opts RunOptions) (*RunResult, error) {
	rn := &run{
		r: r,
		result: &RunResult{
			RunID:     r.newID(),
			OrgID:     orgID,
			State:     NotStarted,
			StartedAt: r.now(),
		},
	}
	rn.log = logging.Component("attendance").WithFields(logrus.Fields{
		"run_id": rn.result.RunID,
		"org":    orgID,
	})

	rn.transition(LoadingGallery)

	gallery, err := r.deps.Gallery.Gallery(ctx, orgID)
	if err != nil {
		if ctx.Err() != nil {
			return rn.cancel(ctx.Err())
		}
		return rn.fail(fmt.Errorf("failed to load gallery: %w", err))
	}
	if len(gallery) == 0 {
		return rn.fail(fmt.Errorf("%w for organization %s", ErrEmptyGallery, orgID))
	}

	people, err := r.deps.People.People(ctx, orgID)
	if err != nil {
		if ctx.Err() != nil {
			return rn.cancel(ctx.Err())
		}
		return rn.fail(fmt.Errorf("failed to load people: %w", err))
	}
	if len(people) == 0 {
		return rn.fail(fmt.Errorf("%w in organization %s", ErrNoPeople, orgID))
	}

	if len(opts.PersonIDs) > 0 {
		people, err = selectPeople(people, opts.PersonIDs)
		if err != nil {
			return rn.fail(err)
		}
	}

	rn.log.Infof("Checking %d people against %d gallery faces", len(people), len(gallery))
	rn.transition(MatchingPeople)
	if opts.OnStart != nil {
		opts.OnStart(len(people))
	}

	workers := r.workers
	if opts.Workers > 0 {
		workers = opts.Workers
	}

	acc := newAccumulator()
	for res := range r.dispatch(ctx, people, gallery, workers) {
		acc.add(res.index, res.result)
		if opts.OnPerson != nil {
			opts.OnPerson(res.result)
		}
	}

	if err := ctx.Err(); err != nil {
		return rn.cancel(err)
	}

	rn.transition(Summarizing)
	rn.result.People = acc.results()
	rn.result.Summary = acc.summary(gallery)

	// Summarizing is the commit point: a cancellation from here on must not
	// leave a partially persisted run.
	persist := context.WithoutCancel(ctx)
	for _, p := range rn.result.People {
		if err := r.deps.Sink.RecordPresence(persist, orgID, p.PersonID, p.IsPresent, p.CheckedAt); err != nil {
			rn.log.WithField("person_id", p.PersonID).WithError(err).Warn("Failed to record presence")
		}
	}

	rn.result.FinishedAt = r.now()
	if r.deps.Recorder != nil {
		record := *rn.result
		record.State = Done
		if err := r.deps.Recorder.RecordRun(persist, &record); err != nil {
			rn.log.WithError(err).Warn("Failed to record run")
		}
	}

	rn.transition(Done)

	s := rn.result.Summary
	rn.log.WithFields(logrus.Fields{
		"checked":      s.Checked,
		"present":      s.Present,
		"absent":       s.Absent,
		"identified":   len(s.IdentifiedGalleryIDs),
		"unidentified": len(s.UnidentifiedGalleryIDs),
	}).Infof("Attendance run finished: %.1f%% present", s.AttendanceRate)

	return rn.result, nil
}

type job struct {
	index  int
	person Person
}

// dispatch feeds people to a bounded pool of workers. The returned channel is
// closed once every dispatched person was processed. No new person is
// dispatched after ctx is cancelled.
func (r *Reconciler) dispatch(ctx context.Context, people []Person, gallery []match.GalleryEntry, workers int) <-chan indexedResult {
	jobs := make(chan job)
	results := make(chan indexedResult)

	go func() {
		defer close(jobs)
		for i, p := range people {
			if ctx.Err() != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case jobs <- job{index: i, person: p}:
			}
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results <- indexedResult{index: j.index, result: r.checkPerson(ctx, j.person, gallery)}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

// checkPerson matches one person. Failures mark the person absent.
func (r *Reconciler) checkPerson(ctx context.Context, p Person, gallery []match.GalleryEntry) (res PersonAttendanceResult) {
	log := logging.Component("attendance").WithField("person_id", p.ID)
	res = PersonAttendanceResult{
		PersonID:        p.ID,
		DisplayName:     p.FullName(),
		AcceptedMatches: []match.MatchOutcome{},
	}
	defer func() { res.CheckedAt = r.now() }()

	ref := p.ReferenceRef()
	if ref == "" {
		res.Error = ErrNoReferenceImage.Error()
		log.Warn("Person has no reference image, marking absent")
		return res
	}

	query, err := r.deps.Fetcher.Fetch(ctx, ref)
	if err != nil {
		res.Error = fmt.Sprintf("failed to fetch reference image: %v", err)
		log.WithError(err).Warn("Reference image unavailable, marking absent")
		return res
	}

	report, err := r.deps.Matcher.MatchAgainstGallery(ctx, p.ID, query, gallery)
	if err != nil {
		res.Error = fmt.Sprintf("matching failed: %v", err)
		log.WithError(err).Warn("Matching failed, marking absent")
		return res
	}

	res.Report = report
	res.AcceptedMatches = append(res.AcceptedMatches, report.Outcomes...)
	res.IsPresent = len(res.AcceptedMatches) > 0
	log.WithField("matches", len(res.AcceptedMatches)).Debugf("Checked %s: present=%v", res.DisplayName, res.IsPresent)
	return res
}

// selectPeople keeps the requested people in directory order.
func selectPeople(people []Person, queries []string) ([]Person, error) {
	want := make(map[string]bool, len(queries))
	for _, q := range queries {
		p, err := ResolvePerson(people, q)
		if err != nil {
			return nil, err
		}
		want[p.ID] = true
	}
	var out []Person
	for _, p := range people {
		if want[p.ID] {
			out = append(out, p)
		}
	}
	return out, nil
}
