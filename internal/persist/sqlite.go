// Package persist provides the optional on-disk archive: a SQLite snapshot
// of the store and graph used by the CLI and export/import surfaces.
package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/engramdev/engram/internal/crypto"
	"github.com/engramdev/engram/internal/model"
)

// Archive persists snapshots to a SQLite database. When a cipher is set,
// bodies of Private and above records are sealed in the archive too; the
// at-rest encryption guarantee holds across the process boundary.
type Archive struct {
	db     *sql.DB
	cipher *crypto.Cipher
}

// sealedBody is the encrypted archive form of content + payload.
type sealedBody struct {
	Content string          `json:"content"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Open creates or opens the archive at path. cipher may be nil when no
// private records are ever archived.
func Open(path string, cipher *crypto.Cipher) (*Archive, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	a := &Archive{db: db, cipher: cipher}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return a, nil
}

func (a *Archive) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id           TEXT PRIMARY KEY,
		kind         TEXT NOT NULL,
		payload      TEXT,
		content      TEXT,
		sealed       BLOB,
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL,
		source       TEXT,
		confidence   REAL NOT NULL,
		privacy      TEXT NOT NULL,
		importance   INTEGER NOT NULL,
		metadata     TEXT,
		associations TEXT,
		version      INTEGER NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 0,
		accessed_at  TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_records_kind ON records(kind);
	CREATE INDEX IF NOT EXISTS idx_records_created ON records(created_at DESC);

	CREATE TABLE IF NOT EXISTS associations (
		source     TEXT NOT NULL,
		target     TEXT NOT NULL,
		type       TEXT NOT NULL,
		strength   REAL NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (source, target, type)
	);
	CREATE INDEX IF NOT EXISTS idx_assoc_target ON associations(target);
	`
	_, err := a.db.Exec(schema)
	return err
}

// Save replaces the archive contents with the snapshot in one transaction.
func (a *Archive) Save(ctx context.Context, snap *model.Snapshot) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM associations`); err != nil {
		return err
	}

	for _, m := range snap.Records {
		payload, content, sealed, err := a.encodeBody(m)
		if err != nil {
			return fmt.Errorf("archive %s: %w", m.ID, err)
		}
		var metaJSON, assocJSON *string
		if len(m.Metadata) > 0 {
			b, _ := json.Marshal(m.Metadata)
			s := string(b)
			metaJSON = &s
		}
		if len(m.Associations) > 0 {
			b, _ := json.Marshal(m.Associations)
			s := string(b)
			assocJSON = &s
		}
		var accessedAt *string
		if !m.AccessedAt.IsZero() {
			s := m.AccessedAt.Format(time.RFC3339Nano)
			accessedAt = &s
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO records (id, kind, payload, content, sealed, created_at, updated_at,
			                      source, confidence, privacy, importance, metadata, associations,
			                      version, access_count, accessed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.Kind.String(), payload, content, sealed,
			m.CreatedAt.Format(time.RFC3339Nano), m.UpdatedAt.Format(time.RFC3339Nano),
			m.Source, m.Confidence, m.Privacy.String(), m.Importance,
			metaJSON, assocJSON, m.Version, m.AccessCount, accessedAt)
		if err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
	}

	for _, e := range snap.Associations {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO associations (source, target, type, strength, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			e.Source, e.Target, e.Type.String(), e.Strength, e.CreatedAt.Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("insert association: %w", err)
		}
	}

	return tx.Commit()
}

// encodeBody splits a record into archive columns: plaintext payload and
// content for public records, one sealed blob for private ones.
func (a *Archive) encodeBody(m *model.Memory) (payload, content *string, sealed []byte, err error) {
	raw, err := model.MarshalPayload(m.Payload)
	if err != nil {
		return nil, nil, nil, err
	}
	if !m.Privacy.RequiresEncryption() {
		p := string(raw)
		c := m.Content
		return &p, &c, nil, nil
	}
	if a.cipher == nil {
		return nil, nil, nil, model.Validationf("privacy", "%s record needs an encryption secret to archive", m.Privacy)
	}
	plain, err := json.Marshal(sealedBody{Content: m.Content, Payload: raw})
	if err != nil {
		return nil, nil, nil, err
	}
	sealed, err = a.cipher.Seal(plain)
	return nil, nil, sealed, err
}

// Load reads the archive back into a snapshot.
func (a *Archive) Load(ctx context.Context) (*model.Snapshot, error) {
	snap := &model.Snapshot{ExportedAt: time.Now().UTC()}

	rows, err := a.db.QueryContext(ctx,
		`SELECT id, kind, payload, content, sealed, created_at, updated_at,
		        source, confidence, privacy, importance, metadata, associations,
		        version, access_count, accessed_at
		 FROM records ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		m, err := a.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		snap.Records = append(snap.Records, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	assocRows, err := a.db.QueryContext(ctx,
		`SELECT source, target, type, strength, created_at FROM associations ORDER BY source, target`)
	if err != nil {
		return nil, err
	}
	defer assocRows.Close()

	for assocRows.Next() {
		var e model.Association
		var typ, createdAt string
		if err := assocRows.Scan(&e.Source, &e.Target, &typ, &e.Strength, &createdAt); err != nil {
			return nil, err
		}
		e.Type = model.AssociationType(typ)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		snap.Associations = append(snap.Associations, e)
	}
	return snap, assocRows.Err()
}

func (a *Archive) scanRecord(rows *sql.Rows) (*model.Memory, error) {
	var m model.Memory
	var kind, privacy, createdAt, updatedAt string
	var payload, content, source, metaJSON, assocJSON, accessedAt sql.NullString
	var sealed []byte

	err := rows.Scan(&m.ID, &kind, &payload, &content, &sealed, &createdAt, &updatedAt,
		&source, &m.Confidence, &privacy, &m.Importance, &metaJSON, &assocJSON,
		&m.Version, &m.AccessCount, &accessedAt)
	if err != nil {
		return nil, err
	}

	m.Kind = model.Kind(kind)
	if !m.Kind.IsValid() {
		return nil, fmt.Errorf("record %s: unknown kind %q", m.ID, kind)
	}
	var ok bool
	if m.Privacy, ok = model.ParsePrivacy(privacy); !ok {
		return nil, fmt.Errorf("record %s: unknown privacy %q", m.ID, privacy)
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	m.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if source.Valid {
		m.Source = source.String
	}
	if metaJSON.Valid {
		json.Unmarshal([]byte(metaJSON.String), &m.Metadata)
	}
	if assocJSON.Valid {
		json.Unmarshal([]byte(assocJSON.String), &m.Associations)
	}
	if accessedAt.Valid {
		m.AccessedAt, _ = time.Parse(time.RFC3339Nano, accessedAt.String)
	}

	if len(sealed) > 0 {
		if a.cipher == nil {
			return nil, &model.IntegrityError{Op: "archive read", Err: fmt.Errorf("record %s is sealed and no encryption secret is configured", m.ID)}
		}
		plain, err := a.cipher.Open(sealed)
		if err != nil {
			return nil, err
		}
		var body sealedBody
		if err := json.Unmarshal(plain, &body); err != nil {
			return nil, fmt.Errorf("record %s: decode sealed body: %w", m.ID, err)
		}
		m.Content = body.Content
		if m.Payload, err = model.UnmarshalPayload(m.Kind, body.Payload); err != nil {
			return nil, err
		}
		return &m, nil
	}

	if content.Valid {
		m.Content = content.String
	}
	if payload.Valid {
		if m.Payload, err = model.UnmarshalPayload(m.Kind, []byte(payload.String)); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}
