// Copyright: Jonathan Hall
// License: GNU AGPL, Version 3 or later; http://www.gnu.org/licenses/agpl.html

package anki

import (
	"errors"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/emadruga/javumbo-sub001/internal/clock"
)

// ErrSchemaInit is returned when a collection cannot be created at the
// requested path, typically because a non-empty file is already there.
var ErrSchemaInit = errors.New("collection already exists")

// SchemaVersion is the Anki collection schema version this package emits.
// Version 11 is what current desktop builds expect from an import.
const SchemaVersion = 11

// schemaDDL is the canonical Anki v11 layout. Column order and types are
// contractual: a collection written through this schema must open in an
// unmodified desktop client.
const schemaDDL = `
CREATE TABLE col (
	id              integer PRIMARY KEY,
	crt             integer NOT NULL,
	mod             integer NOT NULL,
	scm             integer NOT NULL,
	ver             integer NOT NULL,
	dty             integer NOT NULL,
	usn             integer NOT NULL,
	ls              integer NOT NULL,
	conf            text NOT NULL,
	models          text NOT NULL,
	decks           text NOT NULL,
	dconf           text NOT NULL,
	tags            text NOT NULL
);
CREATE TABLE notes (
	id              integer PRIMARY KEY,
	guid            text NOT NULL,
	mid             integer NOT NULL,
	mod             integer NOT NULL,
	usn             integer NOT NULL,
	tags            text NOT NULL,
	flds            text NOT NULL,
	sfld            integer NOT NULL,
	csum            integer NOT NULL,
	flags           integer NOT NULL,
	data            text NOT NULL
);
CREATE TABLE cards (
	id              integer PRIMARY KEY,
	nid             integer NOT NULL,
	did             integer NOT NULL,
	ord             integer NOT NULL,
	mod             integer NOT NULL,
	usn             integer NOT NULL,
	type            integer NOT NULL,
	queue           integer NOT NULL,
	due             integer NOT NULL,
	ivl             integer NOT NULL,
	factor          integer NOT NULL,
	reps            integer NOT NULL,
	lapses          integer NOT NULL,
	left            integer NOT NULL,
	odue            integer NOT NULL,
	odid            integer NOT NULL,
	flags           integer NOT NULL,
	data            text NOT NULL
);
CREATE TABLE revlog (
	id              integer PRIMARY KEY,
	cid             integer NOT NULL,
	usn             integer NOT NULL,
	ease            integer NOT NULL,
	ivl             integer NOT NULL,
	lastIvl         integer NOT NULL,
	factor          integer NOT NULL,
	time            integer NOT NULL,
	type            integer NOT NULL
);
CREATE TABLE graves (
	usn             integer NOT NULL,
	oid             integer NOT NULL,
	type            integer NOT NULL
);
CREATE INDEX ix_notes_usn ON notes (usn);
CREATE INDEX ix_cards_usn ON cards (usn);
CREATE INDEX ix_revlog_usn ON revlog (usn);
CREATE INDEX ix_cards_nid ON cards (nid);
CREATE INDEX ix_cards_sched ON cards (did, queue, due);
CREATE INDEX ix_revlog_cid ON revlog (cid);
CREATE INDEX ix_notes_csum ON notes (csum);
`

// Initialize creates a fresh collection file at path, seeded with the default
// deck configuration and the fixed sample note set. The target must not
// already contain a non-empty file.
func Initialize(path, displayName string, clk clock.Clock) error {
	if fi, err := os.Stat(path); err == nil && fi.Size() > 0 {
		return fmt.Errorf("%w: %s", ErrSchemaInit, path)
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	nowMS := clk.NowMS()
	col := Col{
		ID:             1,
		Created:        clock.StartOfDay(clk.Now()),
		Modified:       nowMS,
		SchemaModified: nowMS,
		Version:        SchemaVersion,
		Conf:           DefaultConf(),
		Models:         Models{BasicModelID: BasicModel(nowMS)},
		Decks:          Decks{DefaultDeckID: DefaultDeck(displayName, nowMS/1000)},
		DeckConfigs:    DeckConfigs{DefaultDeckConfigID: DefaultDeckConfig(nowMS / 1000)},
		Tags:           "{}",
	}
	if _, err := db.NamedExec(`
		INSERT INTO col (id, crt, mod, scm, ver, dty, usn, ls, conf, models, decks, dconf, tags)
		VALUES (:id, :crt, :mod, :scm, :ver, :dty, :usn, :ls, :conf, :models, :decks, :dconf, :tags)
	`, col); err != nil {
		return fmt.Errorf("seed col row: %w", err)
	}

	if err := seedSampleNotes(db, clk); err != nil {
		return fmt.Errorf("seed sample notes: %w", err)
	}
	return nil
}

func seedSampleNotes(db *sqlx.DB, clk clock.Clock) error {
	nowMS := clk.NowMS()
	nowSec := nowMS / 1000
	for i, sample := range SampleNotes {
		note := Note{
			ID:        ID(nowMS + int64(i)*2),
			GUID:      NewGUID(),
			ModelID:   BasicModelID,
			Modified:  nowSec,
			Tags:      "",
			Fields:    JoinFields([]string{sample[0], sample[1]}),
			SortField: sample[0],
			Checksum:  FieldChecksum(sample[0]),
		}
		if _, err := db.NamedExec(`
			INSERT INTO notes (id, guid, mid, mod, usn, tags, flds, sfld, csum, flags, data)
			VALUES (:id, :guid, :mid, :mod, :usn, :tags, :flds, :sfld, :csum, :flags, :data)
		`, note); err != nil {
			return err
		}
		card := Card{
			ID:       ID(nowMS + int64(i)*2 + 1),
			NoteID:   note.ID,
			DeckID:   DefaultDeckID,
			Modified: nowSec,
			Type:     CardTypeNew,
			Queue:    CardQueueNew,
			Due:      int64(i + 1), // new-card position
		}
		if _, err := db.NamedExec(`
			INSERT INTO cards (id, nid, did, ord, mod, usn, type, queue, due, ivl,
				factor, reps, lapses, left, odue, odid, flags, data)
			VALUES (:id, :nid, :did, :ord, :mod, :usn, :type, :queue, :due, :ivl,
				:factor, :reps, :lapses, :left, :odue, :odid, :flags, :data)
		`, card); err != nil {
			return err
		}
	}
	return nil
}
