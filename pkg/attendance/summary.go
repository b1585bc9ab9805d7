package attendance

import (
	"math"
	"sort"
	"time"

	"github.com/MrCodeEU/facecheck/pkg/match"
)

// PersonAttendanceResult is one person's outcome for a run.
type PersonAttendanceResult struct {
	PersonID        string               `json:"person_id"`
	DisplayName     string               `json:"display_name"`
	IsPresent       bool                 `json:"is_present"`
	AcceptedMatches []match.MatchOutcome `json:"accepted_matches"`
	CheckedAt       time.Time            `json:"checked_at"`
	Error           string               `json:"error,omitempty"`

	// Report holds the per-candidate diagnostics. It is not persisted.
	Report *match.Report `json:"-"`
}

// RunSummary is the aggregate of one run.
type RunSummary struct {
	Checked                int      `json:"checked"`
	Present                int      `json:"present"`
	Absent                 int      `json:"absent"`
	AttendanceRate         float64  `json:"attendance_rate"`
	IdentifiedGalleryIDs   []string `json:"identified_gallery_ids"`
	UnidentifiedGalleryIDs []string `json:"unidentified_gallery_ids"`
}

// RunResult is the full record of one reconciliation run.
type RunResult struct {
	RunID      string                   `json:"run_id"`
	OrgID      string                   `json:"org_id"`
	State      State                    `json:"state"`
	Reason     string                   `json:"reason,omitempty"`
	StartedAt  time.Time                `json:"started_at"`
	FinishedAt time.Time                `json:"finished_at"`
	Summary    RunSummary               `json:"summary"`
	People     []PersonAttendanceResult `json:"people"`
}

// accumulator folds person results into a summary. It is owned by a single
// goroutine.
type accumulator struct {
	people  []indexedResult
	claimed map[string]struct{}
}

type indexedResult struct {
	index  int
	result PersonAttendanceResult
}

func newAccumulator() *accumulator {
	return &accumulator{claimed: make(map[string]struct{})}
}

func (a *accumulator) add(index int, r PersonAttendanceResult) {
	// A person is only present with at least one accepted match.
	r.IsPresent = len(r.AcceptedMatches) > 0
	for _, m := range r.AcceptedMatches {
		a.claimed[m.GalleryEntryID] = struct{}{}
	}
	a.people = append(a.people, indexedResult{index: index, result: r})
}

// results returns the person results in directory order.
func (a *accumulator) results() []PersonAttendanceResult {
	sort.Slice(a.people, func(i, j int) bool { return a.people[i].index < a.people[j].index })
	out := make([]PersonAttendanceResult, len(a.people))
	for i, p := range a.people {
		out[i] = p.result
	}
	return out
}

// summary partitions the gallery into identified and unidentified entries.
func (a *accumulator) summary(gallery []match.GalleryEntry) RunSummary {
	s := RunSummary{
		IdentifiedGalleryIDs:   []string{},
		UnidentifiedGalleryIDs: []string{},
	}
	for _, p := range a.people {
		s.Checked++
		if p.result.IsPresent {
			s.Present++
		} else {
			s.Absent++
		}
	}
	s.AttendanceRate = AttendanceRate(s.Present, s.Checked)

	seen := make(map[string]struct{}, len(gallery))
	for _, e := range gallery {
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		if _, ok := a.claimed[e.ID]; ok {
			s.IdentifiedGalleryIDs = append(s.IdentifiedGalleryIDs, e.ID)
		} else {
			s.UnidentifiedGalleryIDs = append(s.UnidentifiedGalleryIDs, e.ID)
		}
	}
	sort.Strings(s.IdentifiedGalleryIDs)
	sort.Strings(s.UnidentifiedGalleryIDs)
	return s
}

// AttendanceRate returns present/checked as a percentage rounded to two decimals.
func AttendanceRate(present, checked int) float64 {
	if checked <= 0 {
		return 0
	}
	return math.Round(float64(present)/float64(checked)*10000) / 100
}
