package api

import (
	"net/http"

	"github.com/Mindburn-Labs/transmuter/pkg/contracts"
)

// Sandbox routes stand in for the token program and the bank's deposit
// flow, which live outside this service in production.

func (s *Server) handleCreateMint(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mint contracts.Address `json:"mint"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.Mint.IsZero() {
		WriteBadRequest(w, "mint is required")
		return
	}
	if err := s.faucet.CreateMint(r.Context(), body.Mint); err != nil {
		WriteProtocolError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"mint": body.Mint})
}

func (s *Server) handleMintTo(w http.ResponseWriter, r *http.Request) {
	var body struct {
		To     contracts.Address `json:"to"`
		Amount uint64            `json:"amount"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.To.IsZero() {
		body.To, _ = CallerFrom(r.Context())
	}
	mint := pathAddr(r, "mint")
	if err := s.faucet.MintTo(r.Context(), mint, body.To, body.Amount); err != nil {
		WriteProtocolError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mint": mint, "to": body.To, "amount": body.Amount})
}

func (s *Server) handleAirdrop(w http.ResponseWriter, r *http.Request) {
	var body struct {
		To     contracts.Address `json:"to"`
		Amount uint64            `json:"amount"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.To.IsZero() {
		body.To, _ = CallerFrom(r.Context())
	}
	if err := s.faucet.Airdrop(r.Context(), body.To, body.Amount); err != nil {
		WriteProtocolError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"to": body.To, "lamports": body.Amount})
}

func (s *Server) handleDepositGem(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mint    contracts.Address `json:"mint"`
		Creator contracts.Address `json:"creator,omitempty"`
		Amount  uint64            `json:"amount"`
	}
	if !decode(w, r, &body) {
		return
	}
	vault := pathAddr(r, "vault")
	if err := s.gems.DepositGem(r.Context(), vault, body.Mint, body.Creator, body.Amount); err != nil {
		WriteProtocolError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vault": vault, "mint": body.Mint, "amount": body.Amount})
}
