// Copyright: Jonathan Hall
// License: GNU AGPL, Version 3 or later; http://www.gnu.org/licenses/agpl.html

package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/emadruga/javumbo-sub001/internal/anki"
	"github.com/emadruga/javumbo-sub001/internal/repo"
	"github.com/emadruga/javumbo-sub001/internal/store"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "Running")
}

type registerRequest struct {
	Username string `json:"username" validate:"required,max=10"`
	Name     string `json:"name" validate:"required,max=40"`
	Password string `json:"password" validate:"required,min=10,max=20"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		s.writeError(w, r, validationError(err))
		return
	}

	user, err := s.users.Create(r.Context(), req.Username, req.Name, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	path := store.CollectionPath(s.dataDir, user.ID)
	if err := anki.Initialize(path, user.Name, s.clk); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Info("user registered",
		zap.String("user", user.Username), zap.Int64("id", user.ID))
	writeJSON(w, http.StatusCreated, map[string]interface{}{"userId": user.ID})
}

// validationError rewrites validator output into a stable client-facing
// message naming the first offending field.
func validationError(err error) error {
	if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
		return badRequest(fmt.Sprintf("Invalid field: %s", errs[0].Field()))
	}
	return badRequest("Invalid request")
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := s.users.VerifyPassword(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	token := s.gate.Issue(user.Username)
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":  user,
		"token": token,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := requestToken(r); token != "" {
		if username, err := s.gate.Resolve(token); err == nil {
			// Best effort: fold the WAL into the file before the user walks
			// away. Errors only get logged, logout still succeeds.
			ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
			if err := s.registry.Flush(ctx, username); err != nil {
				s.log.Warn("flush on logout", zap.String("user", username), zap.Error(err))
			}
			cancel()
			s.mu.Lock()
			delete(s.pending, username)
			s.mu.Unlock()
		}
		s.gate.Revoke(token)
	}
	http.SetCookie(w, &http.Cookie{
		Name:   SessionCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func pathID(r *http.Request) (anki.ID, error) {
	n, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || n <= 0 {
		return 0, badRequest("Invalid id")
	}
	return anki.ID(n), nil
}

func (s *Server) handleListDecks(w http.ResponseWriter, r *http.Request) {
	var decks []repo.DeckInfo
	err := s.withRepo(r.Context(), usernameFrom(r.Context()), func(rp *repo.Repo) (bool, error) {
		var err error
		decks, err = rp.ListDecks(r.Context())
		return false, err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decks)
}

func (s *Server) handleCreateDeck(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	var deck *repo.DeckInfo
	err := s.withRepo(r.Context(), usernameFrom(r.Context()), func(rp *repo.Repo) (bool, error) {
		var err error
		deck, err = rp.CreateDeck(r.Context(), req.Name)
		return err == nil, err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, deck)
}

func (s *Server) handleSetCurrentDeck(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeckID anki.ID `json:"deckId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	err := s.withRepo(r.Context(), usernameFrom(r.Context()), func(rp *repo.Repo) (bool, error) {
		err := rp.SetCurrentDeck(r.Context(), req.DeckID)
		return err == nil, err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Current deck updated"})
}

func (s *Server) handleDeleteDeck(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var deleted int
	err = s.withRepo(r.Context(), usernameFrom(r.Context()), func(rp *repo.Repo) (bool, error) {
		var err error
		deleted, err = rp.DeleteDeck(r.Context(), id)
		return err == nil, err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":      "Deck deleted",
		"deletedCards": deleted,
	})
}

func (s *Server) handleRenameDeck(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	var deck *repo.DeckInfo
	err = s.withRepo(r.Context(), usernameFrom(r.Context()), func(rp *repo.Repo) (bool, error) {
		var err error
		deck, err = rp.RenameDeck(r.Context(), id, req.Name)
		return err == nil, err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deck)
}

func (s *Server) handleDeckStats(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var stats *repo.DeckStats
	err = s.withRepo(r.Context(), usernameFrom(r.Context()), func(rp *repo.Repo) (bool, error) {
		var err error
		stats, err = rp.Stats(r.Context(), id)
		return false, err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"counts": stats,
		"total":  stats.Total,
	})
}

func (s *Server) handleDeckCards(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("perPage"))

	var result *repo.CardPage
	err = s.withRepo(r.Context(), usernameFrom(r.Context()), func(rp *repo.Repo) (bool, error) {
		var err error
		result, err = rp.ListDeckCards(r.Context(), id, page, perPage)
		return false, err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	pages := (result.Total + perPage - 1) / perPage
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cards": result.Cards,
		"pagination": map[string]int{
			"page":    page,
			"perPage": perPage,
			"total":   result.Total,
			"pages":   pages,
		},
	})
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	username := usernameFrom(r.Context())
	var deckOverride anki.ID
	if raw := r.URL.Query().Get("deckId"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			s.writeError(w, r, badRequest("Invalid deckId"))
			return
		}
		deckOverride = anki.ID(n)
	}
	view, err := s.reviews.Next(r.Context(), username, deckOverride)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if view == nil {
		s.mu.Lock()
		delete(s.pending, username)
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"message": "No cards due"})
		return
	}
	s.mu.Lock()
	s.pending[username] = view.CardID
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, view)
}

type answerRequest struct {
	CardID    anki.ID `json:"cardId"`
	Ease      int     `json:"ease"`
	TimeTaken int64   `json:"timeTaken"`
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	username := usernameFrom(r.Context())
	var req answerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	cardID := req.CardID
	if cardID == 0 {
		// Fall back to the card handed out by the last GET /review.
		s.mu.Lock()
		cardID = s.pending[username]
		s.mu.Unlock()
	}
	if cardID == 0 {
		s.writeError(w, r, repo.ErrCardNotFound)
		return
	}
	if _, err := s.reviews.Answer(r.Context(), username, cardID, anki.Ease(req.Ease), req.TimeTaken); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.mu.Lock()
	if s.pending[username] == cardID {
		delete(s.pending, username)
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Answer recorded"})
}

func (s *Server) handleAddCard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Front string `json:"front"`
		Back  string `json:"back"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	var noteID, cardID anki.ID
	err := s.withRepo(r.Context(), usernameFrom(r.Context()), func(rp *repo.Repo) (bool, error) {
		deckID, err := rp.CurrentDeck(r.Context())
		if err != nil {
			return false, err
		}
		noteID, cardID, err = rp.AddCard(r.Context(), req.Front, req.Back, deckID)
		return err == nil, err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"noteId": noteID,
		"cardId": cardID,
	})
}

func (s *Server) handleGetCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var content *repo.CardContent
	err = s.withRepo(r.Context(), usernameFrom(r.Context()), func(rp *repo.Repo) (bool, error) {
		var err error
		content, err = rp.GetContent(r.Context(), id)
		return false, err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, content)
}

func (s *Server) handleUpdateCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Front string `json:"front"`
		Back  string `json:"back"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.withRepo(r.Context(), usernameFrom(r.Context()), func(rp *repo.Repo) (bool, error) {
		err := rp.UpdateContent(r.Context(), id, req.Front, req.Back)
		return err == nil, err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleDeleteCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.withRepo(r.Context(), usernameFrom(r.Context()), func(rp *repo.Repo) (bool, error) {
		err := rp.DeleteCard(r.Context(), id)
		return err == nil, err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	archive, filename, err := s.exports.Export(r.Context(), usernameFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(archive)))
	_, _ = w.Write(archive)
}
