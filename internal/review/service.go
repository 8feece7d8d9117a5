// Copyright: Jonathan Hall
// License: GNU AGPL, Version 3 or later; http://www.gnu.org/licenses/agpl.html

// Package review exposes the study loop: pick the next due card for a user
// and commit an answer. Each call acquires the user's session for the
// duration of the operation, so concurrent requests from the same user are
// applied in arrival order.
package review

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/emadruga/javumbo-sub001/internal/anki"
	"github.com/emadruga/javumbo-sub001/internal/clock"
	"github.com/emadruga/javumbo-sub001/internal/repo"
	"github.com/emadruga/javumbo-sub001/internal/session"
)

// ErrInvalidEase rejects ratings outside the four answer buttons. The
// message string is part of the external contract.
var ErrInvalidEase = errors.New("Invalid ease rating (must be 1..4)")

// CardView is the study-facing card shape: only what the UI needs to show a
// question and reveal its answer.
type CardView struct {
	CardID anki.ID        `json:"cardId"`
	Front  string         `json:"front"`
	Back   string         `json:"back"`
	Queue  anki.CardQueue `json:"queue"`
}

// Service drives review for all users through the session registry.
type Service struct {
	reg *session.Registry
	clk clock.Clock
	log *zap.Logger
}

// NewService builds a review service.
func NewService(reg *session.Registry, clk clock.Clock, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{reg: reg, clk: clk, log: log}
}

// Next returns the next due card of the user's current deck, or of the
// override deck when deckOverride is nonzero. A nil CardView with nil error
// means nothing is due.
func (s *Service) Next(ctx context.Context, username string, deckOverride anki.ID) (*CardView, error) {
	lease, err := s.reg.Acquire(ctx, username)
	if err != nil {
		return nil, err
	}
	defer s.reg.Release(lease, false)

	r := repo.New(lease.Store(), s.clk)
	deckID := deckOverride
	if deckID == 0 {
		deckID, err = r.CurrentDeck(ctx)
		if err != nil {
			return nil, err
		}
	}
	content, err := r.NextDue(ctx, deckID)
	if err != nil || content == nil {
		return nil, err
	}
	return &CardView{
		CardID: content.CardID,
		Front:  content.Front,
		Back:   content.Back,
		Queue:  content.Queue,
	}, nil
}

// Answer commits a rating for a card. The card update and its revlog row are
// written in one transaction.
func (s *Service) Answer(ctx context.Context, username string, cardID anki.ID, ease anki.Ease, timeTakenMS int64) (*repo.AnswerResult, error) {
	if !ease.Valid() {
		return nil, ErrInvalidEase
	}
	if timeTakenMS < 0 {
		timeTakenMS = 0
	}
	lease, err := s.reg.Acquire(ctx, username)
	if err != nil {
		return nil, err
	}
	dirty := false
	defer func() { s.reg.Release(lease, dirty) }()

	r := repo.New(lease.Store(), s.clk)
	res, err := r.Answer(ctx, cardID, ease, timeTakenMS)
	if err != nil {
		return nil, err
	}
	dirty = true
	s.log.Debug("answer committed",
		zap.String("user", username),
		zap.Int64("card", int64(cardID)),
		zap.Int("ease", int(ease)))
	return res, nil
}
