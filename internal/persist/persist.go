// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package persist implements a SQLite backed credential store.
package persist

import (
	"context"
	"database/sql"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/silverbook-inc/drue/internal/account"
	"github.com/silverbook-inc/drue/internal/credential"

	_ "github.com/mattn/go-sqlite3"
)

var (
	createTableSql = []string{
		// The gmail_tokens table maps a mailbox to its long lived
		// refresh credential.
		//
		// Field: email
		//
		//   The mailbox address, trimmed and lower cased.
		//
		// Field: token
		//
		//   The credential as submitted.  Never an access token in
		//   a healthy database, but nothing here enforces that;
		//   callers check the shape on read.
		//
		// Field: updated_at
		//
		//   Unix seconds of the last write.
		`
CREATE TABLE IF NOT EXISTS gmail_tokens (
email TEXT NOT NULL PRIMARY KEY,
token TEXT NOT NULL,
updated_at INTEGER NOT NULL
);`,
	}
)

type DB struct {
	db *sql.DB
}

type Tx struct {
	tx *sql.Tx
}

func dsnFromPath(path string, addValues url.Values) (string, error) {
	var u *url.URL
	if !strings.HasPrefix(path, "file:") {
		u = &url.URL{Scheme: "file", Path: path}
	} else {
		var err error
		u, err = url.Parse(path)
		if err != nil {
			return "", err
		}
	}
	values := u.Query()
	for k, v := range addValues {
		for _, item := range v {
			values.Add(k, item)
		}
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}

// Open opens, creating if needed, the token database at path.  path
// is a file name or a file: URI.
func Open(ctx context.Context, path string) (*DB, error) {
	// _busy_timeout makes SQLite retry a locked database instead of
	// failing at once.  Webhook deliveries read while the token
	// endpoint writes, and every statement touches a single row.
	busyTimeout := 10 * time.Second
	dsn, err := dsnFromPath(path, url.Values{
		"_busy_timeout": {strconv.FormatInt(busyTimeout.Milliseconds(), 10)},
		"_journal_mode": {"WAL"},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "token database path %q", path)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "opening token database %q", dsn)
	}
	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "initializing token database %q", path)
	}
	return &DB{db}, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "starting token transaction")
	}
	return &Tx{tx}, nil
}

func (tx *Tx) Commit() error {
	return tx.tx.Commit()
}

func (tx *Tx) Rollback() error {
	return tx.tx.Rollback()
}

func initSchema(ctx context.Context, db *sql.DB) error {
	for _, sql := range createTableSql {
		if _, err := db.ExecContext(ctx, sql); err != nil {
			return errors.Wrapf(err, "executing %q", sql)
		}
	}

	return nil
}

// Get satisfies credential.Store.
func (db *DB) Get(ctx context.Context, email string) (string, bool, error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return "", false, err
	}
	defer tx.Rollback()
	return tx.Token(ctx, account.Normalize(email))
}

// Put satisfies credential.Store.
func (db *DB) Put(ctx context.Context, email, token string) error {
	email = account.Normalize(email)
	token = strings.TrimSpace(token)
	if email == "" || token == "" {
		return credential.ErrEmpty
	}
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := tx.UpsertToken(ctx, email, token, time.Now()); err != nil {
		return err
	}
	return tx.Commit()
}

func (tx *Tx) Token(ctx context.Context, email string) (string, bool, error) {
	const q = `SELECT token FROM gmail_tokens WHERE email = $1`
	row := tx.tx.QueryRowContext(ctx, q, email)
	var token string
	if err := row.Scan(&token); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, errors.Wrapf(err, "reading token for %s", email)
	}
	return token, true, nil
}

func (tx *Tx) UpsertToken(ctx context.Context, email, token string, now time.Time) error {
	const sql = `INSERT INTO gmail_tokens (email, token, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (email)
		DO UPDATE SET (token, updated_at) = ($2, $3)`
	if _, err := tx.tx.ExecContext(ctx, sql, email, token, now.Unix()); err != nil {
		return errors.Wrapf(err, "saving token for %s", email)
	}
	return nil
}
