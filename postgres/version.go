package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meikuraledutech/flowvc"
)

// AppendVersion inserts a version and swaps the branch tip in one
// transaction: the branch's previous active version is deactivated before
// the new row lands, so the partial unique index never sees two tips.
func (s *Store) AppendVersion(ctx context.Context, v *flowvc.Version) error {
	snapshot, err := json.Marshal(v.Snapshot)
	if err != nil {
		return fmt.Errorf("flowvc: encode snapshot: %w", err)
	}
	tags, err := json.Marshal(tagsOrEmpty(v.Tags))
	if err != nil {
		return fmt.Errorf("flowvc: encode tags: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("flowvc: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if v.IsActive {
		if _, err := tx.Exec(ctx,
			`UPDATE wf_versions SET is_active = FALSE WHERE branch_id = $1 AND is_active`,
			v.BranchID,
		); err != nil {
			return fmt.Errorf("flowvc: deactivate tip: %w", err)
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO wf_versions
		 (id, document_id, branch_id, version_number, name, author, created_at,
		  change_type, tags, is_active, snapshot, change_summary)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		v.ID, v.DocumentID, v.BranchID, v.VersionNumber, v.Name, v.Author, v.CreatedAt,
		string(v.ChangeType), tags, v.IsActive, snapshot, v.ChangeSummary,
	); err != nil {
		return fmt.Errorf("flowvc: insert version %s: %w", v.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("flowvc: commit: %w", err)
	}
	return nil
}

const versionColumns = `id, document_id, branch_id, version_number, name, author,
	created_at, change_type, tags, is_active, snapshot, change_summary`

// GetVersion fetches a version by id. Returns flowvc.ErrVersionNotFound if
// it doesn't exist.
func (s *Store) GetVersion(ctx context.Context, versionID string) (*flowvc.Version, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM wf_versions WHERE id = $1`, versionID)
	v, err := scanVersion(row)
	if err != nil {
		if isNoRows(err) {
			return nil, flowvc.ErrVersionNotFound
		}
		return nil, fmt.Errorf("flowvc: get version: %w", err)
	}
	return v, nil
}

// ActiveVersion returns the branch's current tip, or
// flowvc.ErrVersionNotFound if the branch has no versions.
func (s *Store) ActiveVersion(ctx context.Context, branchID string) (*flowvc.Version, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM wf_versions WHERE branch_id = $1 AND is_active`, branchID)
	v, err := scanVersion(row)
	if err != nil {
		if isNoRows(err) {
			return nil, flowvc.ErrVersionNotFound
		}
		return nil, fmt.Errorf("flowvc: active version: %w", err)
	}
	return v, nil
}

// ListVersions returns a document's versions ordered by version number
// descending, truncated to limit. limit <= 0 means no truncation.
func (s *Store) ListVersions(ctx context.Context, documentID string, limit int) ([]flowvc.Version, error) {
	q := `SELECT ` + versionColumns + ` FROM wf_versions WHERE document_id = $1
	      ORDER BY version_number DESC, created_at DESC`
	args := []any{documentID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("flowvc: list versions: %w", err)
	}
	defer rows.Close()

	versions := []flowvc.Version{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("flowvc: scan version: %w", err)
		}
		versions = append(versions, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("flowvc: rows versions: %w", err)
	}
	return versions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (*flowvc.Version, error) {
	var (
		v          flowvc.Version
		changeType string
		tags       []byte
		snapshot   []byte
		createdAt  time.Time
	)
	if err := row.Scan(
		&v.ID, &v.DocumentID, &v.BranchID, &v.VersionNumber, &v.Name, &v.Author,
		&createdAt, &changeType, &tags, &v.IsActive, &snapshot, &v.ChangeSummary,
	); err != nil {
		return nil, err
	}
	v.CreatedAt = createdAt.UTC()
	v.ChangeType = flowvc.ChangeType(changeType)
	if err := json.Unmarshal(tags, &v.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal(snapshot, &v.Snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &v, nil
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
