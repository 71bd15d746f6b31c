package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/chiquitav2/ddcloud/pkg/compute"
	"github.com/chiquitav2/ddcloud/pkg/errors"
	_ "github.com/mattn/go-sqlite3"
)

// FileName is the database file created under the cache directory
const FileName = "nodes.db"

//go:embed schema.sql
var ddl string

// NodeRecord is a cached view of a node created through a provider
type NodeRecord struct {
	Provider   string
	Name       string
	ID         string
	State      string
	PublicIPs  []string
	PrivateIPs []string
	Data       map[string]any
	UpdatedAt  time.Time
}

// RecordFromNode builds a record from a driver node and the merged result map
func RecordFromNode(provider string, node *compute.Node, data map[string]any) NodeRecord {
	if data == nil {
		data = node.ToMap()
	}
	return NodeRecord{
		Provider:   provider,
		Name:       node.Name,
		ID:         node.ID,
		State:      string(node.State),
		PublicIPs:  node.PublicIPs,
		PrivateIPs: node.PrivateIPs,
		Data:       data,
	}
}

// Store persists node records in sqlite
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens the cache database inside dir
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.NewCacheError("failed to create cache directory", err)
	}

	path := filepath.Join(dir, FileName)
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.NewCacheError("failed to open cache database", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.NewCacheError("failed to ping cache database", err)
	}

	store := NewStoreFromDB(db)
	if err := store.Setup(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewStoreFromDB wraps an existing connection; call Setup before use
func NewStoreFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Setup applies the embedded schema
func (s *Store) Setup(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return errors.NewCacheError("failed to setup cache schema", err)
	}
	return nil
}

// Put inserts or replaces the record for (provider, name)
func (s *Store) Put(ctx context.Context, rec NodeRecord) error {
	public, err := json.Marshal(nonNil(rec.PublicIPs))
	if err != nil {
		return errors.NewCacheError("failed to encode public ips", err)
	}
	private, err := json.Marshal(nonNil(rec.PrivateIPs))
	if err != nil {
		return errors.NewCacheError("failed to encode private ips", err)
	}
	if rec.Data == nil {
		rec.Data = map[string]any{}
	}
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return errors.NewCacheError("failed to encode node data", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO nodes (provider, name, id, state, public_ips, private_ips, data, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, name) DO UPDATE SET
			id = excluded.id,
			state = excluded.state,
			public_ips = excluded.public_ips,
			private_ips = excluded.private_ips,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		rec.Provider, rec.Name, rec.ID, rec.State, string(public), string(private), string(data), time.Now().UTC())
	if err != nil {
		return errors.NewCacheError(fmt.Sprintf("failed to cache node %s", rec.Name), err)
	}
	return nil
}

// Get returns the record for (provider, name) or a not_found error
func (s *Store) Get(ctx context.Context, provider, name string) (*NodeRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT provider, name, id, state, public_ips, private_ips, data, updated_at
		FROM nodes WHERE provider = ? AND name = ?`, provider, name)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError(fmt.Sprintf("node %s is not cached for %s", name, provider), nil)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns the cached records of a provider ordered by name; empty provider lists everything
func (s *Store) List(ctx context.Context, provider string) ([]NodeRecord, error) {
	query := `SELECT provider, name, id, state, public_ips, private_ips, data, updated_at FROM nodes`
	var args []any
	if provider != "" {
		query += ` WHERE provider = ?`
		args = append(args, provider)
	}
	query += ` ORDER BY provider, name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewCacheError("failed to list cached nodes", err)
	}
	defer rows.Close()

	var out []NodeRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewCacheError("failed to iterate cached nodes", err)
	}
	return out, nil
}

// Delete removes a record; deleting a missing record is not an error
func (s *Store) Delete(ctx context.Context, provider, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM nodes WHERE provider = ? AND name = ?`, provider, name); err != nil {
		return errors.NewCacheError(fmt.Sprintf("failed to remove cached node %s", name), err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*NodeRecord, error) {
	var (
		rec                   NodeRecord
		public, private, data string
	)
	if err := row.Scan(&rec.Provider, &rec.Name, &rec.ID, &rec.State, &public, &private, &data, &rec.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, errors.NewCacheError("failed to read cached node", err)
	}

	if err := json.Unmarshal([]byte(public), &rec.PublicIPs); err != nil {
		return nil, errors.NewCacheError("failed to decode public ips", err)
	}
	if err := json.Unmarshal([]byte(private), &rec.PrivateIPs); err != nil {
		return nil, errors.NewCacheError("failed to decode private ips", err)
	}
	if err := json.Unmarshal([]byte(data), &rec.Data); err != nil {
		return nil, errors.NewCacheError("failed to decode node data", err)
	}
	return &rec, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
