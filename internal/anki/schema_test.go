// Copyright: Jonathan Hall
// License: GNU AGPL, Version 3 or later; http://www.gnu.org/licenses/agpl.html

package anki

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/emadruga/javumbo-sub001/internal/clock"
)

func TestInitialize(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 8, 24, 15, 30, 0, 0, time.UTC))
	path := filepath.Join(t.TempDir(), "user_1.anki2")
	require.NoError(t, Initialize(path, "Alice", clk))

	db, err := sqlx.Connect("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	var col Col
	require.NoError(t, db.Get(&col, "SELECT * FROM col WHERE id = 1"))

	if col.Version != SchemaVersion {
		t.Fatalf("Expected schema version %d, got %d", SchemaVersion, col.Version)
	}
	wantCrt := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC).Unix()
	if col.Created != wantCrt {
		t.Fatalf("crt should be UTC midnight %d, got %d", wantCrt, col.Created)
	}
	if col.Modified != clk.NowMS() || col.SchemaModified != clk.NowMS() {
		t.Fatalf("mod/scm should be creation time ms, got %d/%d", col.Modified, col.SchemaModified)
	}

	// Seeded blobs: one model, one deck, one dconf, curDeck 1.
	if len(col.Models) != 1 || col.Models[BasicModelID] == nil {
		t.Fatalf("Expected exactly the Basic model, got %v", col.Models)
	}
	deck := col.Decks[DefaultDeckID]
	require.NotNil(t, deck)
	if deck.Name != "Default" {
		t.Fatalf("Expected deck name Default, got %q", deck.Name)
	}
	if col.Conf.CurrentDeck != DefaultDeckID {
		t.Fatalf("Expected curDeck %d, got %d", DefaultDeckID, col.Conf.CurrentDeck)
	}

	var notes, cards int
	require.NoError(t, db.Get(&notes, "SELECT COUNT(*) FROM notes"))
	require.NoError(t, db.Get(&cards, "SELECT COUNT(*) FROM cards"))
	if notes != len(SampleNotes) || cards != len(SampleNotes) {
		t.Fatalf("Expected %d sample notes and cards, got %d/%d", len(SampleNotes), notes, cards)
	}

	// Every sample card starts in the new queue with a position due.
	var badCards int
	require.NoError(t, db.Get(&badCards,
		"SELECT COUNT(*) FROM cards WHERE type != 0 OR queue != 0 OR due < 1"))
	if badCards != 0 {
		t.Fatalf("%d seeded cards are not proper new cards", badCards)
	}
}

func TestInitializeRefusesExisting(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 8, 24, 15, 30, 0, 0, time.UTC))
	path := filepath.Join(t.TempDir(), "user_1.anki2")
	require.NoError(t, Initialize(path, "Alice", clk))

	err := Initialize(path, "Alice", clk)
	if !errors.Is(err, ErrSchemaInit) {
		t.Fatalf("Expected ErrSchemaInit on re-init, got %v", err)
	}
}
