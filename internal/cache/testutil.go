package cache

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

var testDBSeq atomic.Int64

// NewTestStore creates an in-memory cache private to the calling test
func NewTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := fmt.Sprintf("file:ddcloud-cache-%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	store := NewStoreFromDB(db)
	if err := store.Setup(context.Background()); err != nil {
		db.Close()
		t.Fatalf("failed to setup test database schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return store
}
