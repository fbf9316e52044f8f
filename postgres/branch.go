package postgres

import (
	"context"
	"fmt"

	"github.com/meikuraledutech/flowvc"
)

// CreateBranch inserts a new branch row.
func (s *Store) CreateBranch(ctx context.Context, b *flowvc.Branch) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO wf_branches (id, name, document_id, based_on_version_id, is_default, status)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		b.ID, b.Name, b.DocumentID, b.BasedOnVersionID, b.IsDefault, string(b.Status),
	)
	if err != nil {
		return fmt.Errorf("flowvc: insert branch: %w", err)
	}
	return nil
}

// GetBranch fetches a branch by id. Returns flowvc.ErrBranchNotFound if it
// doesn't exist.
func (s *Store) GetBranch(ctx context.Context, branchID string) (*flowvc.Branch, error) {
	var b flowvc.Branch
	var status string
	err := s.db.QueryRow(ctx,
		`SELECT id, name, document_id, based_on_version_id, is_default, status
		 FROM wf_branches WHERE id = $1`, branchID,
	).Scan(&b.ID, &b.Name, &b.DocumentID, &b.BasedOnVersionID, &b.IsDefault, &status)
	if err != nil {
		if isNoRows(err) {
			return nil, flowvc.ErrBranchNotFound
		}
		return nil, fmt.Errorf("flowvc: get branch: %w", err)
	}
	b.Status = flowvc.BranchStatus(status)
	return &b, nil
}

// ListBranches returns all branches for a document, default branch first,
// then by name. Returns an empty slice (not nil) if none found.
func (s *Store) ListBranches(ctx context.Context, documentID string) ([]flowvc.Branch, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, name, document_id, based_on_version_id, is_default, status
		 FROM wf_branches WHERE document_id = $1
		 ORDER BY is_default DESC, name`, documentID)
	if err != nil {
		return nil, fmt.Errorf("flowvc: list branches: %w", err)
	}
	defer rows.Close()

	branches := []flowvc.Branch{}
	for rows.Next() {
		var b flowvc.Branch
		var status string
		if err := rows.Scan(&b.ID, &b.Name, &b.DocumentID, &b.BasedOnVersionID, &b.IsDefault, &status); err != nil {
			return nil, fmt.Errorf("flowvc: scan branch: %w", err)
		}
		b.Status = flowvc.BranchStatus(status)
		branches = append(branches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("flowvc: rows branches: %w", err)
	}
	return branches, nil
}

// UpdateBranchStatus moves a branch to a new lifecycle state. Returns
// flowvc.ErrBranchNotFound if the branch doesn't exist.
func (s *Store) UpdateBranchStatus(ctx context.Context, branchID string, status flowvc.BranchStatus) error {
	ct, err := s.db.Exec(ctx,
		`UPDATE wf_branches SET status = $1 WHERE id = $2`,
		string(status), branchID,
	)
	if err != nil {
		return fmt.Errorf("flowvc: update branch status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return flowvc.ErrBranchNotFound
	}
	return nil
}
