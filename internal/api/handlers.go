package api

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MJE43/pfrace/internal/engine"
	"github.com/MJE43/pfrace/internal/game"
	"github.com/MJE43/pfrace/internal/proof"
)

const (
	defaultMaxPlayers = 3
	defaultPerPage    = 50
	maxPerPage        = 500
	keypairBits       = 2048
)

func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	var req CreateGameRequest
	if r.ContentLength != 0 && !s.decodeJSON(w, r, &req) {
		return
	}
	maxPlayers := defaultMaxPlayers
	if req.MaxPlayers != nil {
		maxPlayers = *req.MaxPlayers
	}

	g, err := s.engine.CreateGame(r.Context(), maxPlayers)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.securityLogger.LogGameOperation(middleware.GetReqID(r.Context()), "create_game", g.ID, "", "success",
		map[string]interface{}{"max_players": maxPlayers})
	s.writeJSON(w, http.StatusCreated, g)
}

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, GamesResponse{Games: s.engine.ListGames(), EngineVersion: EngineVersion})
}

func (s *Server) handleActiveGame(w http.ResponseWriter, r *http.Request) {
	g, err := s.engine.ActiveGame()
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	g, err := s.engine.GetGame(chi.URLParam(r, "gameID"))
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleRegisterPlayer(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	gameID := chi.URLParam(r, "gameID")

	p, err := s.engine.RegisterPlayer(r.Context(), gameID, req.PlayerAddress)
	s.logOutcome(r, "register_player", gameID, req.PlayerAddress, err, nil)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, p)
}

// handleRetrySeed re-issues the oracle request of a game stuck in AWAITING_SEED.
func (s *Server) handleRetrySeed(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")

	err := s.engine.RetrySeed(r.Context(), gameID)
	s.logOutcome(r, "retry_seed", gameID, "", err, nil)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	g, err := s.engine.GetGame(gameID)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleSubmitCommitment(w http.ResponseWriter, r *http.Request) {
	var req game.CommitmentRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	gameID := chi.URLParam(r, "gameID")

	c, err := s.engine.SubmitCommitment(r.Context(), gameID, req)
	s.logOutcome(r, "submit_commitment", gameID, req.PlayerAddress, err, nil)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleRequestVariation(w http.ResponseWriter, r *http.Request) {
	var req VariationRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	gameID := chi.URLParam(r, "gameID")

	ticket, err := s.engine.RequestVariation(r.Context(), gameID, req.PlayerAddress)
	s.logOutcome(r, "request_variation", gameID, req.PlayerAddress, err, nil)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ticket)
}

func (s *Server) handleComputeVariation(w http.ResponseWriter, r *http.Request) {
	var req ComputeVariationRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	gameID := chi.URLParam(r, "gameID")

	out, err := s.engine.ComputeVariation(r.Context(), gameID, req.PlayerAddress, req.CurrentNumbers)
	if err != nil {
		s.logOutcome(r, "compute_variation", gameID, req.PlayerAddress, err, nil)
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.logOutcome(r, "compute_variation", gameID, req.PlayerAddress, nil,
		map[string]interface{}{"variation_index": out.VariationIndex})
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSubmitFinal(w http.ResponseWriter, r *http.Request) {
	var req game.FinalRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	gameID := chi.URLParam(r, "gameID")

	fs, err := s.engine.SubmitFinalChoice(r.Context(), gameID, req)
	s.logOutcome(r, "submit_final", gameID, req.PlayerAddress, err,
		map[string]interface{}{"output_declared": req.OutputDeclared})
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, fs)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")
	if _, err := s.engine.GetGame(gameID); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	if s.chain == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, NewError(ErrTypeServiceUnavailable, "audit log disabled").Build())
		return
	}

	page, ok := s.queryInt(w, r, "page", 1)
	if !ok {
		return
	}
	perPage, ok := s.queryInt(w, r, "per_page", defaultPerPage)
	if !ok {
		return
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	txs, err := s.chain.Transactions(r.Context(), gameID, page, perPage)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, TransactionsResponse{GameID: gameID, TxPage: txs})
}

func (s *Server) handleTokenBalance(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	s.writeJSON(w, http.StatusOK, TokenBalanceResponse{Address: address, Balance: s.engine.TokenBalance(address)})
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	accounts := s.engine.Accounts()
	s.writeJSON(w, http.StatusOK, AccountsResponse{Accounts: accounts, Total: len(accounts)})
}

func (s *Server) handleDeriveNumbers(w http.ResponseWriter, r *http.Request) {
	var req DeriveNumbersRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Seed == "" {
		s.errorHandler.HandleValidationError(w, r, "seed", "seed is required")
		return
	}
	s.writeJSON(w, http.StatusOK, DeriveNumbersResponse{Numbers: engine.DerivePlayerNumbers(req.Seed)})
}

func (s *Server) handleKeypair(w http.ResponseWriter, r *http.Request) {
	key, err := rsa.GenerateKey(rand.Reader, keypairBits)
	if err != nil {
		s.errorHandler.HandleError(w, r, fmt.Errorf("generate keypair: %w", err))
		return
	}
	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		s.errorHandler.HandleError(w, r, fmt.Errorf("encode public key: %w", err))
		return
	}
	priv, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		s.errorHandler.HandleError(w, r, fmt.Errorf("encode private key: %w", err))
		return
	}

	s.writeJSON(w, http.StatusOK, KeypairResponse{
		PublicKey:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pub})),
		PrivateKey: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: priv})),
	})
}

func (s *Server) handleCommitmentProof(w http.ResponseWriter, r *http.Request) {
	var req CommitmentProofRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.PlayerSeed == "" || req.PublicKey == "" {
		s.errorHandler.HandleValidationError(w, r, "player_seed", "player_seed and public_key are required")
		return
	}
	p, err := proof.ProveCommitment(req.PlayerSeed, engine.NumberCount, req.PublicKey)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ProofResponse{Proof: p})
}

func (s *Server) handleFinalProof(w http.ResponseWriter, r *http.Request) {
	var req FinalProofRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.PlayerSeed == "" || req.ScoringSeed == "" {
		s.errorHandler.HandleValidationError(w, r, "player_seed", "player_seed and scoring_seed are required")
		return
	}
	p, err := proof.ProveFinal(req.PlayerSeed, req.ScoringSeed, req.OutputDeclared, req.VariationsCount)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ProofResponse{Proof: p})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")
	if _, err := s.engine.GetGame(gameID); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	if s.hub == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, NewError(ErrTypeServiceUnavailable, "event stream disabled").Build())
		return
	}
	s.hub.ServeWS(w, r, gameID)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, GetVersionInfo())
}

// queryInt parses a positive integer query parameter.
func (s *Server) queryInt(w http.ResponseWriter, r *http.Request, key string, fallback int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		s.errorHandler.HandleValidationError(w, r, key, key+" must be a positive integer")
		return 0, false
	}
	return v, true
}

// logOutcome writes a game operation entry to the security log.
func (s *Server) logOutcome(r *http.Request, op, gameID, player string, err error, details map[string]interface{}) {
	outcome := "success"
	if err != nil {
		outcome, _ = classify(err)
	}
	s.securityLogger.LogGameOperation(middleware.GetReqID(r.Context()), op, gameID, player, outcome, details)
}
