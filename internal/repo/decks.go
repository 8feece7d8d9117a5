// Copyright: Jonathan Hall
// License: GNU AGPL, Version 3 or later; http://www.gnu.org/licenses/agpl.html

package repo

import (
	"context"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/emadruga/javumbo-sub001/internal/anki"
)

// DeckInfo is the external deck shape: id plus the verbatim name, which may
// contain "::" separators for hierarchy.
type DeckInfo struct {
	ID   anki.ID `json:"id"`
	Name string  `json:"name"`
}

// DeckStats buckets a deck's cards by scheduler state.
type DeckStats struct {
	New        int `json:"new"`
	Learning   int `json:"learning"`
	Relearning int `json:"relearning"`
	Young      int `json:"young"`
	Mature     int `json:"mature"`
	Suspended  int `json:"suspended"`
	Buried     int `json:"buried"`
	Total      int `json:"total"`
}

// ListDecks returns all decks in ascending name order.
func (r *Repo) ListDecks(ctx context.Context) ([]DeckInfo, error) {
	var out []DeckInfo
	err := r.st.Transaction(ctx, func(tx *sqlx.Tx) error {
		col, err := readCol(tx)
		if err != nil {
			return err
		}
		out = make([]DeckInfo, 0, len(col.Decks))
		for _, d := range col.Decks {
			out = append(out, DeckInfo{ID: d.ID, Name: d.Name})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return nil
	})
	return out, err
}

// CreateDeck adds a deck with a fresh timestamp id. Names are compared
// case-insensitively for duplicates.
func (r *Repo) CreateDeck(ctx context.Context, name string) (*DeckInfo, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyDeckName
	}
	var out *DeckInfo
	err := r.st.Transaction(ctx, func(tx *sqlx.Tx) error {
		col, err := readCol(tx)
		if err != nil {
			return err
		}
		if findDeckByName(col.Decks, name) != nil {
			return ErrDuplicateDeck
		}
		nowMS := r.clk.NowMS()
		id := anki.ID(nowMS)
		for {
			if _, taken := col.Decks[id]; !taken {
				break
			}
			id++
		}
		deck := anki.DefaultDeck("", nowMS/1000)
		deck.ID = id
		deck.Name = name
		deck.Description = ""
		col.Decks[id] = deck
		out = &DeckInfo{ID: id, Name: name}
		return writeDecks(tx, col.Decks, nowMS)
	})
	return out, err
}

// RenameDeck changes a deck's name, keeping the duplicate check.
func (r *Repo) RenameDeck(ctx context.Context, id anki.ID, newName string) (*DeckInfo, error) {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return nil, ErrEmptyDeckName
	}
	var out *DeckInfo
	err := r.st.Transaction(ctx, func(tx *sqlx.Tx) error {
		col, err := readCol(tx)
		if err != nil {
			return err
		}
		deck, ok := col.Decks[id]
		if !ok {
			return ErrDeckNotFound
		}
		if dup := findDeckByName(col.Decks, newName); dup != nil && dup.ID != id {
			return ErrDuplicateDeck
		}
		nowMS := r.clk.NowMS()
		deck.Name = newName
		deck.Modified = nowMS / 1000
		out = &DeckInfo{ID: id, Name: newName}
		return writeDecks(tx, col.Decks, nowMS)
	})
	return out, err
}

// DeleteDeck removes a deck, its cards, and any notes left without cards,
// writing tombstones for each. Deck 1 is the fixed catch-all and cannot be
// deleted. Returns the number of deleted cards.
func (r *Repo) DeleteDeck(ctx context.Context, id anki.ID) (int, error) {
	if id == anki.DefaultDeckID {
		return 0, ErrDefaultDeck
	}
	var deleted int
	err := r.st.Transaction(ctx, func(tx *sqlx.Tx) error {
		col, err := readCol(tx)
		if err != nil {
			return err
		}
		if _, ok := col.Decks[id]; !ok {
			return ErrDeckNotFound
		}

		var cards []anki.Card
		if err := tx.Select(&cards, "SELECT id, nid FROM cards WHERE did = ?", id); err != nil {
			return err
		}
		noteIDs := make(map[anki.ID]bool, len(cards))
		for _, c := range cards {
			if err := addGrave(tx, c.ID, anki.GraveCard); err != nil {
				return err
			}
			noteIDs[c.NoteID] = true
		}
		if _, err := tx.Exec("DELETE FROM cards WHERE did = ?", id); err != nil {
			return err
		}
		for nid := range noteIDs {
			var left int
			if err := tx.Get(&left, "SELECT COUNT(*) FROM cards WHERE nid = ?", nid); err != nil {
				return err
			}
			if left == 0 {
				if _, err := tx.Exec("DELETE FROM notes WHERE id = ?", nid); err != nil {
					return err
				}
				if err := addGrave(tx, nid, anki.GraveNote); err != nil {
					return err
				}
			}
		}

		delete(col.Decks, id)
		if err := addGrave(tx, id, anki.GraveDeck); err != nil {
			return err
		}

		nowMS := r.clk.NowMS()
		if col.Conf.CurrentDeck == id {
			col.Conf.CurrentDeck = anki.DefaultDeckID
			if err := writeConf(tx, col.Conf, nowMS); err != nil {
				return err
			}
		}
		deleted = len(cards)
		return writeDecks(tx, col.Decks, nowMS)
	})
	return deleted, err
}

// SetCurrentDeck updates col.conf.curDeck. Re-applying the current value is
// a no-op and leaves col.mod untouched.
func (r *Repo) SetCurrentDeck(ctx context.Context, id anki.ID) error {
	return r.st.Transaction(ctx, func(tx *sqlx.Tx) error {
		col, err := readCol(tx)
		if err != nil {
			return err
		}
		if _, ok := col.Decks[id]; !ok {
			return ErrDeckNotFound
		}
		if col.Conf.CurrentDeck == id {
			return nil
		}
		col.Conf.CurrentDeck = id
		return writeConf(tx, col.Conf, r.clk.NowMS())
	})
}

// CurrentDeck reads col.conf.curDeck.
func (r *Repo) CurrentDeck(ctx context.Context) (anki.ID, error) {
	var id anki.ID
	err := r.st.Transaction(ctx, func(tx *sqlx.Tx) error {
		col, err := readCol(tx)
		if err != nil {
			return err
		}
		id = col.Conf.CurrentDeck
		return nil
	})
	return id, err
}

// Stats buckets the deck's cards. Young and mature split the review state at
// the 21-day interval threshold; suspension and burying win over type.
func (r *Repo) Stats(ctx context.Context, id anki.ID) (*DeckStats, error) {
	var stats DeckStats
	err := r.st.Transaction(ctx, func(tx *sqlx.Tx) error {
		col, err := readCol(tx)
		if err != nil {
			return err
		}
		if _, ok := col.Decks[id]; !ok {
			return ErrDeckNotFound
		}
		var cards []anki.Card
		if err := tx.Select(&cards,
			"SELECT id, nid, did, ord, type, queue, due, ivl FROM cards WHERE did = ?", id); err != nil {
			return err
		}
		for _, c := range cards {
			stats.Total++
			switch {
			case c.Queue == anki.CardQueueSuspended:
				stats.Suspended++
			case c.Queue == anki.CardQueueUserBuried || c.Queue == anki.CardQueueSchedBuried:
				stats.Buried++
			case c.Type == anki.CardTypeNew:
				stats.New++
			case c.Type == anki.CardTypeLearning:
				stats.Learning++
			case c.Type == anki.CardTypeRelearning:
				stats.Relearning++
			case c.Interval < anki.MatureThreshold:
				stats.Young++
			default:
				stats.Mature++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func findDeckByName(decks anki.Decks, name string) *anki.Deck {
	for _, d := range decks {
		if strings.EqualFold(d.Name, name) {
			return d
		}
	}
	return nil
}
