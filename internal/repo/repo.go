// Copyright: Jonathan Hall
// License: GNU AGPL, Version 3 or later; http://www.gnu.org/licenses/agpl.html

// Package repo implements the typed mutation engine over a collection store:
// deck operations on the col JSON blobs, note/card/revlog rows, tombstones,
// and due-queue selection. Everything here speaks anki row types; SQL stays
// inside this package.
package repo

import (
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/microcosm-cc/bluemonday"

	"github.com/emadruga/javumbo-sub001/internal/anki"
	"github.com/emadruga/javumbo-sub001/internal/clock"
	"github.com/emadruga/javumbo-sub001/internal/store"
)

// Domain errors. The message strings are part of the external contract; the
// UI switches on them.
var (
	ErrDeckNotFound  = errors.New("Deck not found")
	ErrDuplicateDeck = errors.New("A deck with this name already exists")
	ErrEmptyDeckName = errors.New("Deck name must not be empty")
	ErrDefaultDeck   = errors.New("The default deck cannot be deleted")
	ErrCardNotFound  = errors.New("Card not found")
	ErrEmptyField    = errors.New("Front and back must not be empty")
	ErrIntegrity     = errors.New("Collection integrity violation")
)

// Repo wraps one user's open store with typed operations.
type Repo struct {
	st  *store.Store
	clk clock.Clock
}

// sanitize strips active content from user-supplied card fields before they
// are persisted. Formatting markup survives.
var sanitize = bluemonday.UGCPolicy()

// New builds a Repo over an acquired store.
func New(st *store.Store, clk clock.Clock) *Repo {
	return &Repo{st: st, clk: clk}
}

// Store exposes the underlying store, used by the export service.
func (r *Repo) Store() *store.Store { return r.st }

// readCol loads the single col row inside the given transaction.
func readCol(tx *sqlx.Tx) (*anki.Col, error) {
	var col anki.Col
	if err := tx.Get(&col, "SELECT * FROM col WHERE id = 1"); err != nil {
		return nil, fmt.Errorf("%w: reading col row: %v", ErrIntegrity, err)
	}
	return &col, nil
}

// writeDecks persists the decks blob and bumps col.mod.
func writeDecks(tx *sqlx.Tx, decks anki.Decks, nowMS int64) error {
	_, err := tx.Exec("UPDATE col SET decks = ?, mod = ? WHERE id = 1", decks, nowMS)
	return err
}

// writeConf persists the conf blob and bumps col.mod.
func writeConf(tx *sqlx.Tx, conf anki.Conf, nowMS int64) error {
	_, err := tx.Exec("UPDATE col SET conf = ?, mod = ? WHERE id = 1", conf, nowMS)
	return err
}

// touchCol bumps col.mod; schema-shaped writes also bump col.scm.
func touchCol(tx *sqlx.Tx, nowMS int64, schema bool) error {
	if schema {
		_, err := tx.Exec("UPDATE col SET mod = ?, scm = ? WHERE id = 1", nowMS, nowMS)
		return err
	}
	_, err := tx.Exec("UPDATE col SET mod = ? WHERE id = 1", nowMS)
	return err
}

// allocID returns a fresh primary key for table: the current timestamp in
// milliseconds, pushed past the table's max id so that several rows created
// within the same millisecond still get distinct, increasing ids.
func allocID(tx *sqlx.Tx, table string, nowMS int64) (anki.ID, error) {
	var next int64
	// Table names come from a fixed internal set, never from user input.
	if err := tx.Get(&next, "SELECT COALESCE(MAX(id), 0) + 1 FROM "+table); err != nil {
		return 0, err
	}
	if nowMS > next {
		next = nowMS
	}
	return anki.ID(next), nil
}

// addGrave writes a tombstone row for a deleted entity.
func addGrave(tx *sqlx.Tx, oid anki.ID, typ anki.GraveType) error {
	_, err := tx.Exec("INSERT INTO graves (usn, oid, type) VALUES (-1, ?, ?)", oid, typ)
	return err
}

// deckConfigFor resolves the option group of a deck, falling back to the
// default group when the reference dangles.
func deckConfigFor(col *anki.Col, deckID anki.ID) *anki.DeckConfig {
	if deck, ok := col.Decks[deckID]; ok {
		if conf, ok := col.DeckConfigs[deck.ConfigID]; ok {
			return conf
		}
	}
	if conf, ok := col.DeckConfigs[anki.DefaultDeckConfigID]; ok {
		return conf
	}
	fallback := anki.DefaultDeckConfig(0)
	return fallback
}
