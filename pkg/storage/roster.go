package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrCodeEU/facecheck/pkg/attendance"
	"github.com/MrCodeEU/facecheck/pkg/logging"
)

// RosterFile is the name of an organization's people file.
const RosterFile = "people.yaml"

type rosterDoc struct {
	People []attendance.Person `yaml:"people"`
}

// Roster reads organization members from orgs/<org>/people.yaml.
//
// Relative image references are resolved against the organization directory;
// URLs and absolute paths are returned unchanged.
type Roster struct {
	dataDir string
}

// NewRoster creates a Roster rooted at dataDir.
func NewRoster(dataDir string) *Roster {
	return &Roster{dataDir: dataDir}
}

// People implements attendance.PersonDirectory.
func (r *Roster) People(ctx context.Context, orgID string) ([]attendance.Person, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := orgDir(r.dataDir, orgID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, RosterFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []attendance.Person{}, nil
		}
		return nil, fmt.Errorf("failed to read roster: %w", err)
	}

	people, err := parseRoster(data, orgID)
	if err != nil {
		return nil, err
	}
	for i := range people {
		refs := make([]string, len(people[i].ImageRefs))
		for j, ref := range people[i].ImageRefs {
			refs[j] = resolveRef(dir, ref)
		}
		people[i].ImageRefs = refs
	}

	logging.Component("storage").Debugf("Loaded %d people for %s", len(people), orgID)
	return people, nil
}

// SavePeople writes the roster of orgID, creating the organization if needed.
func (r *Roster) SavePeople(ctx context.Context, orgID string, people []attendance.Person) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkOrgID(orgID); err != nil {
		return err
	}
	dir := filepath.Join(r.dataDir, "orgs", orgID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}
	data, err := yaml.Marshal(rosterDoc{People: people})
	if err != nil {
		return fmt.Errorf("failed to marshal roster: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, RosterFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write roster: %w", err)
	}
	return nil
}

// Organizations lists the organizations of the data directory.
func (r *Roster) Organizations(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Organizations(r.dataDir)
}

// ReadRosterFile reads a people file in the roster format. Image references
// are returned as written.
func ReadRosterFile(path string) ([]attendance.Person, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster: %w", err)
	}
	return parseRoster(data, filepath.Base(path))
}

// parseRoster decodes a roster and rejects missing or duplicate ids.
func parseRoster(data []byte, name string) ([]attendance.Person, error) {
	var doc rosterDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse roster of %s: %w", name, err)
	}

	people := make([]attendance.Person, 0, len(doc.People))
	seen := make(map[string]bool, len(doc.People))
	for i, p := range doc.People {
		if p.ID == "" {
			return nil, fmt.Errorf("roster of %s: person %d has no id", name, i+1)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("roster of %s: duplicate person id %q", name, p.ID)
		}
		seen[p.ID] = true
		people = append(people, p)
	}
	return people, nil
}

func resolveRef(dir, ref string) string {
	if ref == "" || filepath.IsAbs(ref) ||
		strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	return filepath.Join(dir, ref)
}
