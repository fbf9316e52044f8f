package postgres

import "context"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS wf_branches (
    id                  TEXT PRIMARY KEY,
    name                TEXT NOT NULL,
    document_id         TEXT NOT NULL,
    based_on_version_id TEXT NOT NULL DEFAULT '',
    is_default          BOOLEAN NOT NULL DEFAULT FALSE,
    status              TEXT NOT NULL DEFAULT 'active',
    created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS wf_versions (
    id             TEXT PRIMARY KEY,
    document_id    TEXT NOT NULL,
    branch_id      TEXT NOT NULL REFERENCES wf_branches(id) ON DELETE CASCADE,
    version_number INT  NOT NULL,
    name           TEXT NOT NULL DEFAULT '',
    author         TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    change_type    TEXT NOT NULL,
    tags           JSONB NOT NULL DEFAULT '[]',
    is_active      BOOLEAN NOT NULL DEFAULT FALSE,
    snapshot       JSONB NOT NULL,
    change_summary TEXT NOT NULL DEFAULT '',
    UNIQUE (branch_id, version_number)
);

CREATE INDEX IF NOT EXISTS idx_wf_branches_document ON wf_branches(document_id);
CREATE INDEX IF NOT EXISTS idx_wf_versions_document ON wf_versions(document_id);
CREATE INDEX IF NOT EXISTS idx_wf_versions_branch   ON wf_versions(branch_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_wf_versions_active
    ON wf_versions(branch_id) WHERE is_active;
`

// CreateSchema creates the wf_branches and wf_versions tables if they don't
// exist. The partial unique index enforces at most one active version per
// branch at the database level.
func (s *Store) CreateSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaSQL)
	return err
}

// DropSchema drops the wf_versions and wf_branches tables.
func (s *Store) DropSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DROP TABLE IF EXISTS wf_versions, wf_branches CASCADE;`)
	return err
}
