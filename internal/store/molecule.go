package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chem-gl/cadma-flow-api/internal/model"
)

// CreateMolecule inserts a molecule after NFC-normalizing its identity
// fields, and fills in the generated row id.
func (s *Store) CreateMolecule(ctx context.Context, m *model.Molecule, now time.Time) error {
	model.NormalizeMolecule(m)
	m.CreatedAt = now

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO molecules (smiles, inchi, inchikey, common_name, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, m.SMILES, m.InChI, m.InChIKey, m.CommonName, formatTime(now))
	if err != nil {
		return fmt.Errorf("create molecule: %w", err)
	}
	m.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create molecule: last insert id: %w", err)
	}
	return nil
}

// GetMoleculeByInChIKey returns the molecule with the given key, or a
// NotFound error.
func (s *Store) GetMoleculeByInChIKey(ctx context.Context, inchikey string) (*model.Molecule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, smiles, inchi, inchikey, common_name, created_at
		FROM molecules WHERE inchikey = ?
	`, model.NormalizeText(inchikey))
	return scanMolecule(row)
}

// GetMolecule returns the molecule with the given row id.
func (s *Store) GetMolecule(ctx context.Context, id int64) (*model.Molecule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, smiles, inchi, inchikey, common_name, created_at
		FROM molecules WHERE id = ?
	`, id)
	return scanMolecule(row)
}

func scanMolecule(row *sql.Row) (*model.Molecule, error) {
	var m model.Molecule
	var createdAt string
	err := row.Scan(&m.ID, &m.SMILES, &m.InChI, &m.InChIKey, &m.CommonName, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("molecule")
	}
	if err != nil {
		return nil, fmt.Errorf("scan molecule: %w", err)
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateFamily inserts a molecular family and fills in the generated row id.
func (s *Store) CreateFamily(ctx context.Context, f *model.MolecularFamily, now time.Time) error {
	f.CreatedAt = now
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO molecular_families (family_id, name, description, created_at)
		VALUES (?, ?, ?, ?)
	`, f.FamilyID, f.Name, f.Description, formatTime(now))
	if err != nil {
		return fmt.Errorf("create family: %w", err)
	}
	f.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create family: last insert id: %w", err)
	}
	return nil
}

// GetFamilyByFamilyID returns the family with the given logical id.
func (s *Store) GetFamilyByFamilyID(ctx context.Context, familyID string) (*model.MolecularFamily, error) {
	var f model.MolecularFamily
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, family_id, name, description, created_at
		FROM molecular_families WHERE family_id = ?
	`, familyID).Scan(&f.ID, &f.FamilyID, &f.Name, &f.Description, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("family")
	}
	if err != nil {
		return nil, fmt.Errorf("scan family: %w", err)
	}
	if f.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &f, nil
}

// AddFamilyMember associates a molecule with a family. Idempotent.
func (s *Store) AddFamilyMember(ctx context.Context, familyID, moleculeID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO family_members (family_id, molecule_id)
		VALUES (?, ?)
		ON CONFLICT DO NOTHING
	`, familyID, moleculeID)
	if err != nil {
		return fmt.Errorf("add family member: %w", err)
	}
	return nil
}

// FamilyMembers returns the molecules belonging to a family, ordered by
// inchikey for deterministic snapshots.
func (s *Store) FamilyMembers(ctx context.Context, familyID int64) ([]model.Molecule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.smiles, m.inchi, m.inchikey, m.common_name, m.created_at
		FROM molecules m
		JOIN family_members fm ON fm.molecule_id = m.id
		WHERE fm.family_id = ?
		ORDER BY m.inchikey ASC
	`, familyID)
	if err != nil {
		return nil, fmt.Errorf("query family members: %w", err)
	}
	defer rows.Close()

	members := []model.Molecule{}
	for rows.Next() {
		var m model.Molecule
		var createdAt string
		if err := rows.Scan(&m.ID, &m.SMILES, &m.InChI, &m.InChIKey, &m.CommonName, &createdAt); err != nil {
			return nil, fmt.Errorf("scan family member: %w", err)
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate family members: %w", err)
	}
	return members, nil
}

// ExecutionFamilies returns the families associated with an execution,
// ordered by family_id.
func (s *Store) ExecutionFamilies(ctx context.Context, executionID string) ([]model.MolecularFamily, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.family_id, f.name, f.description, f.created_at
		FROM molecular_families f
		JOIN execution_families ef ON ef.family_id = f.id
		WHERE ef.execution_id = ?
		ORDER BY f.family_id ASC
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("query execution families: %w", err)
	}
	defer rows.Close()

	families := []model.MolecularFamily{}
	for rows.Next() {
		var f model.MolecularFamily
		var createdAt string
		if err := rows.Scan(&f.ID, &f.FamilyID, &f.Name, &f.Description, &createdAt); err != nil {
			return nil, fmt.Errorf("scan execution family: %w", err)
		}
		if f.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		families = append(families, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate execution families: %w", err)
	}
	return families, nil
}

// AssociateFamily links a family to an execution. Idempotent.
func (s *Store) AssociateFamily(ctx context.Context, executionID string, familyID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_families (execution_id, family_id)
		VALUES (?, ?)
		ON CONFLICT DO NOTHING
	`, executionID, familyID)
	if err != nil {
		return fmt.Errorf("associate family: %w", err)
	}
	return nil
}
