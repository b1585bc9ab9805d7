package checker

import (
	"context"
	"errors"

	"github.com/MrCodeEU/facecheck/pkg/attendance"
	"github.com/MrCodeEU/facecheck/pkg/storage"
)

// PersonReport is the recorded attendance of one person.
type PersonReport struct {
	Person  attendance.Person       `json:"person"`
	Record  *storage.PresenceRecord `json:"record,omitempty"`
	Present bool                    `json:"present"`
}

// Report is the attendance overview of an organization.
type Report struct {
	OrgID          string                `json:"org_id"`
	People         []PersonReport        `json:"people"`
	Checked        int                   `json:"checked"`
	Present        int                   `json:"present"`
	AttendanceRate float64               `json:"attendance_rate"`
	LastRun        *attendance.RunResult `json:"last_run,omitempty"`
}

// BuildReport joins the roster with the presence history. People without a
// record count as not checked. LastRun is filled when runs is not nil and a
// run was recorded.
func BuildReport(ctx context.Context, orgID string, people attendance.PersonDirectory, history HistoryReader, runs RunReader) (*Report, error) {
	members, err := people.People(ctx, orgID)
	if err != nil {
		return nil, err
	}
	records, err := history.History(ctx, orgID)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*storage.PresenceRecord, len(records))
	for i := range records {
		byID[records[i].PersonID] = &records[i]
	}

	r := &Report{OrgID: orgID, People: make([]PersonReport, 0, len(members))}
	for _, p := range members {
		pr := PersonReport{Person: p, Record: byID[p.ID]}
		if pr.Record != nil {
			r.Checked++
			pr.Present = pr.Record.LastPresent
			if pr.Present {
				r.Present++
			}
		}
		r.People = append(r.People, pr)
	}
	r.AttendanceRate = attendance.AttendanceRate(r.Present, r.Checked)

	if runs != nil {
		last, err := runs.Latest(ctx, orgID)
		switch {
		case err == nil:
			r.LastRun = last
		case !errors.Is(err, storage.ErrNoRuns):
			return nil, err
		}
	}
	return r, nil
}

// Report builds the attendance overview of orgID from the configured stores.
func (c *Checker) Report(ctx context.Context, orgID string) (*Report, error) {
	return BuildReport(ctx, orgID, c.stores.People, c.stores.History, c.stores.Runs)
}
