package postgres

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/MrCodeEU/facecheck/pkg/attendance"
)

// Directory serves organization members from the people table.
type Directory struct {
	pool *Pool
}

// NewDirectory creates a PostgreSQL person directory.
func NewDirectory(pool *Pool) *Directory {
	return &Directory{pool: pool}
}

// People implements attendance.PersonDirectory. People are returned in the
// order they were saved.
func (d *Directory) People(ctx context.Context, orgID string) ([]attendance.Person, error) {
	var exists bool
	if err := d.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM organizations WHERE id = $1)", orgID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("lookup organization: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", attendance.ErrUnknownOrganization, orgID)
	}

	rows, err := d.pool.Query(ctx, `
		SELECT id, first_name, last_name, person_type, class_name, image_refs
		FROM people
		WHERE org_id = $1
		ORDER BY position, id
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	people := []attendance.Person{}
	for rows.Next() {
		var p attendance.Person
		var refs pq.StringArray
		if err := rows.Scan(&p.ID, &p.FirstName, &p.LastName, &p.Type, &p.ClassName, &refs); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		p.ImageRefs = []string(refs)
		people = append(people, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate people: %w", err)
	}
	return people, nil
}

// SavePeople replaces the roster of orgID, creating the organization if needed.
func (d *Directory) SavePeople(ctx context.Context, orgID string, people []attendance.Person) error {
	tx, err := d.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "INSERT INTO organizations (id) VALUES ($1) ON CONFLICT (id) DO NOTHING", orgID); err != nil {
		return fmt.Errorf("save organization: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM people WHERE org_id = $1", orgID); err != nil {
		return fmt.Errorf("clear people: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO people (org_id, id, position, first_name, last_name, person_type, class_name, image_refs)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	if err != nil {
		return fmt.Errorf("prepare people insert: %w", err)
	}
	defer stmt.Close()

	for i, p := range people {
		refs := p.ImageRefs
		if refs == nil {
			refs = []string{}
		}
		if _, err := stmt.ExecContext(ctx, orgID, p.ID, i, p.FirstName, p.LastName, p.Type, p.ClassName, pq.Array(refs)); err != nil {
			return fmt.Errorf("save person %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit people: %w", err)
	}
	return nil
}

// Organizations lists the known organizations by id.
func (d *Directory) Organizations(ctx context.Context) ([]string, error) {
	rows, err := d.pool.Query(ctx, "SELECT id FROM organizations ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orgs := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		orgs = append(orgs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate organizations: %w", err)
	}
	return orgs, nil
}
