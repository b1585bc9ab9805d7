package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/MrCodeEU/facecheck/pkg/logging"
)

// dayLayout keys the days a person was present, in UTC.
const dayLayout = "2006-01-02"

// PresenceRecord is the attendance history of one person.
type PresenceRecord struct {
	PersonID    string    `json:"person_id"`
	LastChecked time.Time `json:"last_checked"`
	LastPresent bool      `json:"last_present"`
	LastSeen    time.Time `json:"last_seen"`
	Checks      int       `json:"checks"`
	DaysPresent []string  `json:"days_present"`
}

// TotalDays returns the number of distinct days the person was present.
func (r PresenceRecord) TotalDays() int {
	return len(r.DaysPresent)
}

// apply folds one check into the record.
func (r *PresenceRecord) apply(present bool, at time.Time) {
	r.Checks++
	if at.After(r.LastChecked) || r.LastChecked.IsZero() {
		r.LastChecked = at
		r.LastPresent = present
	}
	if !present {
		return
	}
	if at.After(r.LastSeen) {
		r.LastSeen = at
	}
	day := at.UTC().Format(dayLayout)
	i := sort.SearchStrings(r.DaysPresent, day)
	if i < len(r.DaysPresent) && r.DaysPresent[i] == day {
		return
	}
	r.DaysPresent = append(r.DaysPresent, "")
	copy(r.DaysPresent[i+1:], r.DaysPresent[i:])
	r.DaysPresent[i] = day
}

type ledgerDoc struct {
	OrgID     string                     `json:"org_id"`
	UpdatedAt time.Time                  `json:"updated_at"`
	People    map[string]*PresenceRecord `json:"people"`
}

// Ledger keeps the presence history of every organization in one
// document per organization.
type Ledger struct {
	dir   string
	codec *codec
	mu    sync.Mutex
}

// NewLedger creates a Ledger below dataDir/ledger.
func NewLedger(dataDir string, encryptionEnabled bool) (*Ledger, error) {
	c, err := newCodec(encryptionEnabled)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(dataDir, "ledger")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	return &Ledger{dir: dir, codec: c}, nil
}

func (l *Ledger) path(orgID string) string {
	return filepath.Join(l.dir, orgID+l.codec.ext())
}

func (l *Ledger) read(orgID string) (*ledgerDoc, error) {
	doc := &ledgerDoc{OrgID: orgID, People: map[string]*PresenceRecord{}}
	if err := l.codec.load(l.path(orgID), doc); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return doc, nil
		}
		return nil, err
	}
	if doc.People == nil {
		doc.People = map[string]*PresenceRecord{}
	}
	return doc, nil
}

// RecordPresence implements attendance.PresenceSink.
func (l *Ledger) RecordPresence(ctx context.Context, orgID, personID string, present bool, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkOrgID(orgID); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.read(orgID)
	if err != nil {
		return err
	}
	rec, ok := doc.People[personID]
	if !ok {
		rec = &PresenceRecord{PersonID: personID, DaysPresent: []string{}}
		doc.People[personID] = rec
	}
	rec.apply(present, at)
	doc.UpdatedAt = at

	if err := l.codec.save(l.path(orgID), doc); err != nil {
		return err
	}
	logging.Component("storage").WithField("person_id", personID).Debugf("Recorded presence=%v for %s", present, orgID)
	return nil
}

// History returns the presence records of orgID sorted by person id.
// An organization without history yields an empty slice.
func (l *Ledger) History(ctx context.Context, orgID string) ([]PresenceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkOrgID(orgID); err != nil {
		return nil, err
	}

	l.mu.Lock()
	doc, err := l.read(orgID)
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]PresenceRecord, 0, len(doc.People))
	for _, rec := range doc.People {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PersonID < out[j].PersonID })
	return out, nil
}
