// Copyright: Jonathan Hall
// License: GNU AGPL, Version 3 or later; http://www.gnu.org/licenses/agpl.html

package repo

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/emadruga/javumbo-sub001/internal/anki"
	"github.com/emadruga/javumbo-sub001/internal/clock"
	"github.com/emadruga/javumbo-sub001/internal/store"
)

func newTestRepo(t *testing.T) (*Repo, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
	path := filepath.Join(t.TempDir(), "user_1.anki2")
	require.NoError(t, anki.Initialize(path, "Alice", clk))
	st, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, clk), clk
}

func colMod(t *testing.T, r *Repo) int64 {
	t.Helper()
	var mod int64
	require.NoError(t, r.st.DB().Get(&mod, "SELECT mod FROM col WHERE id = 1"))
	return mod
}

func graveCount(t *testing.T, r *Repo, typ anki.GraveType) int {
	t.Helper()
	var n int
	require.NoError(t, r.st.DB().Get(&n, "SELECT COUNT(*) FROM graves WHERE type = ?", typ))
	return n
}

func TestFreshCollection(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	decks, err := r.ListDecks(ctx)
	require.NoError(t, err)
	if len(decks) != 1 || decks[0].ID != anki.DefaultDeckID || decks[0].Name != "Default" {
		t.Fatalf("Fresh collection should have only the Default deck, got %v", decks)
	}

	stats, err := r.Stats(ctx, anki.DefaultDeckID)
	require.NoError(t, err)
	want := DeckStats{New: len(anki.SampleNotes), Total: len(anki.SampleNotes)}
	if *stats != want {
		t.Fatalf("Fresh deck stats = %+v, want %+v", *stats, want)
	}

	current, err := r.CurrentDeck(ctx)
	require.NoError(t, err)
	if current != anki.DefaultDeckID {
		t.Fatalf("Fresh curDeck should be 1, got %d", current)
	}
}

func TestDeckLifecycle(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	deck, err := r.CreateDeck(ctx, "  Spanish  ")
	require.NoError(t, err)
	if deck.Name != "Spanish" {
		t.Fatalf("Deck name not trimmed: %q", deck.Name)
	}

	// Duplicate names are rejected case-insensitively.
	if _, err := r.CreateDeck(ctx, "spanish"); !errors.Is(err, ErrDuplicateDeck) {
		t.Fatalf("Expected ErrDuplicateDeck, got %v", err)
	}
	if _, err := r.CreateDeck(ctx, ""); !errors.Is(err, ErrEmptyDeckName) {
		t.Fatalf("Expected ErrEmptyDeckName, got %v", err)
	}
	if _, err := r.RenameDeck(ctx, deck.ID, "default"); !errors.Is(err, ErrDuplicateDeck) {
		t.Fatalf("Rename onto an existing name should conflict, got %v", err)
	}

	renamed, err := r.RenameDeck(ctx, deck.ID, "Spanish Verbs")
	require.NoError(t, err)
	if renamed.ID != deck.ID || renamed.Name != "Spanish Verbs" {
		t.Fatalf("Unexpected rename result: %+v", renamed)
	}
	// Renaming a deck to its own name is allowed.
	if _, err := r.RenameDeck(ctx, deck.ID, "spanish verbs"); err != nil {
		t.Fatalf("Case-only self-rename should succeed: %s", err)
	}

	if _, err := r.DeleteDeck(ctx, anki.DefaultDeckID); !errors.Is(err, ErrDefaultDeck) {
		t.Fatalf("Deck 1 must be undeletable, got %v", err)
	}

	deleted, err := r.DeleteDeck(ctx, deck.ID)
	require.NoError(t, err)
	if deleted != 0 {
		t.Fatalf("Empty deck should delete 0 cards, got %d", deleted)
	}
	if _, err := r.Stats(ctx, deck.ID); !errors.Is(err, ErrDeckNotFound) {
		t.Fatalf("Stats on a deleted deck should be NotFound, got %v", err)
	}
	if _, err := r.DeleteDeck(ctx, deck.ID); !errors.Is(err, ErrDeckNotFound) {
		t.Fatalf("Second delete should be NotFound, got %v", err)
	}
}

func TestDeleteDeckCascades(t *testing.T) {
	r, clk := newTestRepo(t)
	ctx := context.Background()

	deck, err := r.CreateDeck(ctx, "Doomed")
	require.NoError(t, err)
	clk.Advance(time.Second)
	_, _, err = r.AddCard(ctx, "um", "one", deck.ID)
	require.NoError(t, err)
	_, _, err = r.AddCard(ctx, "dois", "two", deck.ID)
	require.NoError(t, err)

	require.NoError(t, r.SetCurrentDeck(ctx, deck.ID))
	deleted, err := r.DeleteDeck(ctx, deck.ID)
	require.NoError(t, err)
	if deleted != 2 {
		t.Fatalf("Expected 2 deleted cards, got %d", deleted)
	}

	if got := graveCount(t, r, anki.GraveCard); got != 2 {
		t.Fatalf("Expected 2 card graves, got %d", got)
	}
	if got := graveCount(t, r, anki.GraveNote); got != 2 {
		t.Fatalf("Expected 2 note graves (both notes orphaned), got %d", got)
	}
	if got := graveCount(t, r, anki.GraveDeck); got != 1 {
		t.Fatalf("Expected 1 deck grave, got %d", got)
	}

	// curDeck falls back to the default deck.
	current, err := r.CurrentDeck(ctx)
	require.NoError(t, err)
	if current != anki.DefaultDeckID {
		t.Fatalf("curDeck should reset to 1 after deleting the current deck, got %d", current)
	}
}

func TestSetCurrentDeckIdempotent(t *testing.T) {
	r, clk := newTestRepo(t)
	ctx := context.Background()

	deck, err := r.CreateDeck(ctx, "Other")
	require.NoError(t, err)

	clk.Advance(time.Second)
	require.NoError(t, r.SetCurrentDeck(ctx, deck.ID))
	modAfterSet := colMod(t, r)

	clk.Advance(time.Second)
	require.NoError(t, r.SetCurrentDeck(ctx, deck.ID))
	if colMod(t, r) != modAfterSet {
		t.Fatal("Re-setting the same current deck must not touch col.mod")
	}

	if err := r.SetCurrentDeck(ctx, 999); !errors.Is(err, ErrDeckNotFound) {
		t.Fatalf("Expected ErrDeckNotFound, got %v", err)
	}
}

func TestAddCard(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	noteID, cardID, err := r.AddCard(ctx, " hola ", "hello", anki.DefaultDeckID)
	require.NoError(t, err)
	if noteID == 0 || cardID == 0 || noteID == cardID {
		t.Fatalf("Bad ids: note=%d card=%d", noteID, cardID)
	}

	content, err := r.GetContent(ctx, cardID)
	require.NoError(t, err)
	if content.Front != "hola" || content.Back != "hello" {
		t.Fatalf("Fields not stored trimmed: %+v", content)
	}
	if content.Queue != anki.CardQueueNew {
		t.Fatalf("New card should be in queue 0, got %d", content.Queue)
	}

	// The new card queues behind the seeded samples.
	card, err := r.GetCard(ctx, cardID)
	require.NoError(t, err)
	if card.Due != int64(len(anki.SampleNotes)+1) {
		t.Fatalf("Expected position %d, got %d", len(anki.SampleNotes)+1, card.Due)
	}

	for _, bad := range [][2]string{{"", "back"}, {"front", ""}, {"  ", "back"}} {
		if _, _, err := r.AddCard(ctx, bad[0], bad[1], anki.DefaultDeckID); !errors.Is(err, ErrEmptyField) {
			t.Fatalf("Expected ErrEmptyField for %q/%q, got %v", bad[0], bad[1], err)
		}
	}
	if _, _, err := r.AddCard(ctx, "a", "b", 999); !errors.Is(err, ErrDeckNotFound) {
		t.Fatalf("Expected ErrDeckNotFound, got %v", err)
	}
}

func TestAddCardSanitizesMarkup(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	_, cardID, err := r.AddCard(ctx, `<b>bold</b><script>alert(1)</script>`, "back", anki.DefaultDeckID)
	require.NoError(t, err)
	content, err := r.GetContent(ctx, cardID)
	require.NoError(t, err)
	if content.Front != "<b>bold</b>" {
		t.Fatalf("Script content should be stripped, formatting kept: %q", content.Front)
	}
}

func TestRapidInsertDistinctIDs(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	// The manual clock never advances, so every id would collide without the
	// max(now, max+1) allocation rule.
	seen := make(map[anki.ID]bool)
	for i := 0; i < 5; i++ {
		noteID, cardID, err := r.AddCard(ctx, "front", "back", anki.DefaultDeckID)
		require.NoError(t, err)
		if seen[noteID] || seen[cardID] {
			t.Fatalf("ID reused on insert %d: note=%d card=%d", i, noteID, cardID)
		}
		seen[noteID] = true
		seen[cardID] = true
	}
}

func TestUpdateContent(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	_, cardID, err := r.AddCard(ctx, "old front", "old back", anki.DefaultDeckID)
	require.NoError(t, err)

	require.NoError(t, r.UpdateContent(ctx, cardID, "new front", "new back"))
	content, err := r.GetContent(ctx, cardID)
	require.NoError(t, err)
	if content.Front != "new front" || content.Back != "new back" {
		t.Fatalf("Update not applied: %+v", content)
	}

	// Checksum follows the sort field.
	card, err := r.GetCard(ctx, cardID)
	require.NoError(t, err)
	var csum int64
	require.NoError(t, r.st.DB().Get(&csum, "SELECT csum FROM notes WHERE id = ?", card.NoteID))
	if csum != anki.FieldChecksum("new front") {
		t.Fatalf("Checksum not recomputed: %d", csum)
	}

	if err := r.UpdateContent(ctx, cardID, "", "x"); !errors.Is(err, ErrEmptyField) {
		t.Fatalf("Expected ErrEmptyField, got %v", err)
	}
	if err := r.UpdateContent(ctx, 999, "a", "b"); !errors.Is(err, ErrCardNotFound) {
		t.Fatalf("Expected ErrCardNotFound, got %v", err)
	}
}

func TestDeleteCardTwice(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	_, cardID, err := r.AddCard(ctx, "front", "back", anki.DefaultDeckID)
	require.NoError(t, err)

	require.NoError(t, r.DeleteCard(ctx, cardID))
	if got := graveCount(t, r, anki.GraveCard); got != 1 {
		t.Fatalf("Expected a card grave, got %d", got)
	}
	// The note had only this card, so it goes too.
	if got := graveCount(t, r, anki.GraveNote); got != 1 {
		t.Fatalf("Expected a note grave, got %d", got)
	}

	err = r.DeleteCard(ctx, cardID)
	if !errors.Is(err, ErrCardNotFound) {
		t.Fatalf("Second delete should be NotFound, got %v", err)
	}
	if got := graveCount(t, r, anki.GraveCard); got != 1 {
		t.Fatal("Failed delete must not write additional graves")
	}
}

func TestNextDueAndAnswer(t *testing.T) {
	r, clk := newTestRepo(t)
	ctx := context.Background()

	// Samples are new cards in position order; the first seeded front wins.
	next, err := r.NextDue(ctx, anki.DefaultDeckID)
	require.NoError(t, err)
	require.NotNil(t, next)
	if next.Front != anki.SampleNotes[0][0] {
		t.Fatalf("Expected first sample %q, got %q", anki.SampleNotes[0][0], next.Front)
	}

	res, err := r.Answer(ctx, next.CardID, anki.EaseGood, 2500)
	require.NoError(t, err)
	if res.Type != anki.CardTypeLearning || res.Queue != anki.CardQueueLearning {
		t.Fatalf("Good on a new card should enter learning, got %+v", res)
	}

	stats, err := r.Stats(ctx, anki.DefaultDeckID)
	require.NoError(t, err)
	if stats.New != len(anki.SampleNotes)-1 || stats.Learning != 1 {
		t.Fatalf("Stats after one answer: %+v", stats)
	}

	// The learning card is not due yet; selection moves to the next new card.
	next, err = r.NextDue(ctx, anki.DefaultDeckID)
	require.NoError(t, err)
	require.NotNil(t, next)
	if next.Front != anki.SampleNotes[1][0] {
		t.Fatalf("Expected second sample, got %q", next.Front)
	}

	// Once its delay passes, the learning card takes priority over new cards.
	clk.Advance(11 * time.Minute)
	next, err = r.NextDue(ctx, anki.DefaultDeckID)
	require.NoError(t, err)
	require.NotNil(t, next)
	if next.Front != anki.SampleNotes[0][0] {
		t.Fatalf("Overdue learning card should come first, got %q", next.Front)
	}
	if next.Queue != anki.CardQueueLearning {
		t.Fatalf("Expected learning queue, got %d", next.Queue)
	}
}

func TestAnswerWritesRevlogAtomically(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	next, err := r.NextDue(ctx, anki.DefaultDeckID)
	require.NoError(t, err)
	_, err = r.Answer(ctx, next.CardID, anki.EaseGood, 1000)
	require.NoError(t, err)

	var logs []anki.Revlog
	require.NoError(t, r.st.DB().Select(&logs, "SELECT * FROM revlog WHERE cid = ?", next.CardID))
	if len(logs) != 1 {
		t.Fatalf("Expected one revlog row, got %d", len(logs))
	}
	if logs[0].UpdateSequence != -1 || logs[0].TimeTaken != 1000 {
		t.Fatalf("Unexpected revlog row: %+v", logs[0])
	}

	card, err := r.GetCard(ctx, next.CardID)
	require.NoError(t, err)
	if card.Reps != 1 {
		t.Fatalf("Expected reps=1, got %d", card.Reps)
	}

	// Same-millisecond answers keep revlog ids strictly increasing.
	_, err = r.Answer(ctx, next.CardID, anki.EaseGood, 500)
	require.NoError(t, err)
	require.NoError(t, r.st.DB().Select(&logs, "SELECT * FROM revlog WHERE cid = ? ORDER BY id", next.CardID))
	if len(logs) != 2 || logs[1].ID <= logs[0].ID {
		t.Fatalf("Revlog ids not strictly increasing: %+v", logs)
	}

	if _, err := r.Answer(ctx, 424242, anki.EaseGood, 0); !errors.Is(err, ErrCardNotFound) {
		t.Fatalf("Expected ErrCardNotFound, got %v", err)
	}
}

func TestNextDueSkipsSuspended(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	deck, err := r.CreateDeck(ctx, "Solo")
	require.NoError(t, err)
	_, cardID, err := r.AddCard(ctx, "front", "back", deck.ID)
	require.NoError(t, err)

	_, err = r.st.Execute(ctx, "UPDATE cards SET queue = -1 WHERE id = ?", cardID)
	require.NoError(t, err)

	next, err := r.NextDue(ctx, deck.ID)
	require.NoError(t, err)
	if next != nil {
		t.Fatalf("Suspended card must never be selected, got %+v", next)
	}

	if _, err := r.NextDue(ctx, 999); !errors.Is(err, ErrDeckNotFound) {
		t.Fatalf("Expected ErrDeckNotFound, got %v", err)
	}
}

func TestListDeckCards(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	page, err := r.ListDeckCards(ctx, anki.DefaultDeckID, 1, 3)
	require.NoError(t, err)
	if page.Total != len(anki.SampleNotes) {
		t.Fatalf("Expected total %d, got %d", len(anki.SampleNotes), page.Total)
	}
	if len(page.Cards) != 3 {
		t.Fatalf("Expected 3 cards on page 1, got %d", len(page.Cards))
	}
	// Ordered by sort field.
	for i := 1; i < len(page.Cards); i++ {
		if page.Cards[i-1].Front > page.Cards[i].Front {
			t.Fatalf("Cards not sorted by front: %q > %q", page.Cards[i-1].Front, page.Cards[i].Front)
		}
	}

	page2, err := r.ListDeckCards(ctx, anki.DefaultDeckID, 2, 3)
	require.NoError(t, err)
	if len(page2.Cards) != 1 {
		t.Fatalf("Expected 1 card on page 2, got %d", len(page2.Cards))
	}

	// Out-of-range pages are empty, not an error.
	page3, err := r.ListDeckCards(ctx, anki.DefaultDeckID, 9, 3)
	require.NoError(t, err)
	if len(page3.Cards) != 0 {
		t.Fatalf("Expected empty page, got %d cards", len(page3.Cards))
	}
}

func TestStatsBuckets(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	deck, err := r.CreateDeck(ctx, "Buckets")
	require.NoError(t, err)

	add := func() anki.ID {
		_, cardID, err := r.AddCard(ctx, "f", "b", deck.ID)
		require.NoError(t, err)
		return cardID
	}
	setCard := func(id anki.ID, typ anki.CardType, queue anki.CardQueue, ivl int64) {
		_, err := r.st.Execute(ctx,
			"UPDATE cards SET type = ?, queue = ?, ivl = ? WHERE id = ?", typ, queue, ivl, id)
		require.NoError(t, err)
	}

	add() // stays new
	setCard(add(), anki.CardTypeLearning, anki.CardQueueLearning, 0)
	setCard(add(), anki.CardTypeRelearning, anki.CardQueueLearning, 1)
	setCard(add(), anki.CardTypeReview, anki.CardQueueReview, 5)   // young
	setCard(add(), anki.CardTypeReview, anki.CardQueueReview, 40)  // mature
	setCard(add(), anki.CardTypeReview, anki.CardQueueSuspended, 40)
	setCard(add(), anki.CardTypeReview, anki.CardQueueUserBuried, 40)

	stats, err := r.Stats(ctx, deck.ID)
	require.NoError(t, err)
	want := DeckStats{
		New: 1, Learning: 1, Relearning: 1, Young: 1, Mature: 1,
		Suspended: 1, Buried: 1, Total: 7,
	}
	if *stats != want {
		t.Fatalf("Stats = %+v, want %+v", *stats, want)
	}
}
