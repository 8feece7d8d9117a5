// Copyright: Jonathan Hall
// License: GNU AGPL, Version 3 or later; http://www.gnu.org/licenses/agpl.html

// Package auth holds the two collaborators the core treats as opaque: the
// user-credential store and the gate that resolves request tokens to
// usernames. Credentials live in their own database, separate from the
// per-user collection files.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrDuplicateUser is returned when the username is taken. The message
	// string is part of the external contract.
	ErrDuplicateUser = errors.New("Username already taken")
	// ErrInvalidCredentials covers both unknown users and bad passwords.
	ErrInvalidCredentials = errors.New("Invalid username or password")
	// ErrUserNotFound is returned by Lookup for unknown usernames.
	ErrUserNotFound = errors.New("User not found")
)

// User is the public account record.
type User struct {
	ID       int64  `db:"id" json:"userId"`
	Username string `db:"username" json:"username"`
	Name     string `db:"name" json:"name"`
}

// UserStore is the credential interface the core depends on.
type UserStore interface {
	Create(ctx context.Context, username, name, password string) (*User, error)
	VerifyPassword(ctx context.Context, username, password string) (*User, error)
	Lookup(ctx context.Context, username string) (*User, error)
}

// SQLiteUserStore keeps accounts in a standalone users database.
type SQLiteUserStore struct {
	db *sqlx.DB
}

const usersDDL = `
CREATE TABLE IF NOT EXISTS users (
	id            integer PRIMARY KEY AUTOINCREMENT,
	username      text NOT NULL UNIQUE COLLATE NOCASE,
	name          text NOT NULL,
	password_hash text NOT NULL,
	created_at    integer NOT NULL
);
`

// OpenUserStore opens (creating if needed) the users database at path.
func OpenUserStore(path string) (*SQLiteUserStore, error) {
	db, err := sqlx.Connect("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open user store: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(usersDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("user store schema: %w", err)
	}
	return &SQLiteUserStore{db: db}, nil
}

// Close releases the handle.
func (s *SQLiteUserStore) Close() error { return s.db.Close() }

// Create registers an account, hashing the password with bcrypt.
func (s *SQLiteUserStore) Create(ctx context.Context, username, name, password string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, name, password_hash, created_at)
		VALUES (?, ?, ?, strftime('%s','now'))
	`, username, name, string(hash))
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, ErrDuplicateUser
		}
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &User{ID: id, Username: username, Name: name}, nil
}

// VerifyPassword checks the credentials, returning the account on success.
func (s *SQLiteUserStore) VerifyPassword(ctx context.Context, username, password string) (*User, error) {
	var row struct {
		User
		Hash string `db:"password_hash"`
	}
	err := s.db.GetContext(ctx, &row,
		"SELECT id, username, name, password_hash FROM users WHERE username = ?", username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(row.Hash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return &row.User, nil
}

// Lookup fetches an account by username.
func (s *SQLiteUserStore) Lookup(ctx context.Context, username string) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u,
		"SELECT id, username, name FROM users WHERE username = ?", username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
