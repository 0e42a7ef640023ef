package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/Mindburn-Labs/transmuter/pkg/bank"
	"github.com/Mindburn-Labs/transmuter/pkg/contracts"
	"github.com/Mindburn-Labs/transmuter/pkg/transmuter"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// InitTransmuterBody is the body of POST /v1/transmuters. The caller becomes
// the owner.
type InitTransmuterBody struct {
	Seed           string            `json:"seed,omitempty"`
	Banks          int               `json:"banks"`
	FeeDestination contracts.Address `json:"fee_destination,omitempty"`
}

func (s *Server) handleInitTransmuter(w http.ResponseWriter, r *http.Request) {
	owner, ok := caller(w, r)
	if !ok {
		return
	}
	body := InitTransmuterBody{Banks: 1}
	if !decode(w, r, &body) {
		return
	}
	t, err := s.svc.InitTransmuter(r.Context(), transmuter.InitTransmuterRequest{
		Owner:          owner,
		Seed:           body.Seed,
		Banks:          body.Banks,
		FeeDestination: body.FeeDestination,
	})
	if err != nil {
		WriteProtocolError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleListTransmuters(w http.ResponseWriter, r *http.Request) {
	ts, err := s.svc.FindTransmuters(r.Context())
	if err != nil {
		WriteProtocolError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

func (s *Server) handleGetTransmuter(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.FindTransmuter(r.Context(), pathAddr(r, "key"))
	if err != nil {
		WriteProtocolError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleUpdateOwner(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	var body struct {
		Owner contracts.Address `json:"owner"`
	}
	if !decode(w, r, &body) {
		return
	}
	t, err := s.svc.UpdateTransmuterOwner(r.Context(), pathAddr(r, "key"), c, body.Owner)
	if err != nil {
		WriteProtocolError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleAddToWhitelist(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	var body struct {
		Address contracts.Address  `json:"address"`
		Kind    bank.WhitelistKind `json:"kind"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.Kind != bank.WhitelistMint && body.Kind != bank.WhitelistCreator {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "kind must be Mint or Creator")
		return
	}
	err := s.svc.AddToBankWhitelist(r.Context(), pathAddr(r, "key"), c, pathAddr(r, "bank"), body.Address, body.Kind)
	if err != nil {
		WriteProtocolError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveFromWhitelist(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	err := s.svc.RemoveFromBankWhitelist(r.Context(), pathAddr(r, "key"), c, pathAddr(r, "bank"), pathAddr(r, "addr"))
	if err != nil {
		WriteProtocolError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddRarities(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	var body struct {
		Rarities []bank.Rarity `json:"rarities"`
	}
	if !decode(w, r, &body) {
		return
	}
	err := s.svc.AddRaritiesToBank(r.Context(), pathAddr(r, "key"), c, pathAddr(r, "bank"), body.Rarities)
	if err != nil {
		WriteProtocolError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// InitMutationBody is the body of POST /v1/transmuters/{key}/mutations.
type InitMutationBody struct {
	Name   string                   `json:"name,omitempty"`
	Seed   string                   `json:"seed,omitempty"`
	Uses   uint64                   `json:"uses"`
	Config contracts.MutationConfig `json:"config"`
}

func (s *Server) handleInitMutation(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "Invalid request body")
		return
	}
	if err := validateDocument(s.schemas.initMutation, raw); err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	var body InitMutationBody
	if err := json.Unmarshal(raw, &body); err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "Invalid request body: "+err.Error())
		return
	}

	m, err := s.svc.InitMutation(r.Context(), transmuter.InitMutationRequest{
		Transmuter: pathAddr(r, "key"),
		Caller:     c,
		Config:     body.Config,
		Uses:       body.Uses,
		Name:       body.Name,
		Seed:       body.Seed,
	})
	if err != nil {
		WriteProtocolError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleListMutations(w http.ResponseWriter, r *http.Request) {
	ms, err := s.svc.FindMutations(r.Context(), pathAddr(r, "key"))
	if err != nil {
		WriteProtocolError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ms)
}

func (s *Server) handleGetMutation(w http.ResponseWriter, r *http.Request) {
	m, err := s.svc.FindMutation(r.Context(), pathAddr(r, "key"))
	if err != nil {
		WriteProtocolError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// DestroyResponse reports drained escrow balances keyed by slot letter.
type DestroyResponse struct {
	Mutation       contracts.Address            `json:"mutation"`
	Drained        map[string]uint64            `json:"drained"`
	Escrows        map[string]contracts.Address `json:"escrows"`
	ReceiptsClosed int                          `json:"receipts_closed"`
}

func (s *Server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	d, err := s.svc.Destroy(r.Context(), pathAddr(r, "key"), c)
	if err != nil {
		WriteProtocolError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DestroyResponse{
		Mutation:       d.Mutation,
		Drained:        slotMap(d.Drained),
		Escrows:        slotMap(d.Escrows),
		ReceiptsClosed: d.Receipts,
	})
}

func (s *Server) handleEscrows(w http.ResponseWriter, r *http.Request) {
	bal, err := s.svc.EscrowBalances(r.Context(), pathAddr(r, "key"))
	if err != nil {
		WriteProtocolError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slotMap(bal))
}

func (s *Server) handleInitTakerVault(w http.ResponseWriter, r *http.Request) {
	taker, ok := caller(w, r)
	if !ok {
		return
	}
	var body struct {
		Bank contracts.Address `json:"bank"`
	}
	if !decode(w, r, &body) {
		return
	}
	v, err := s.svc.InitTakerVault(r.Context(), pathAddr(r, "key"), taker, body.Bank)
	if err != nil {
		WriteProtocolError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	taker, ok := caller(w, r)
	if !ok {
		return
	}
	res, err := s.svc.Execute(r.Context(), pathAddr(r, "key"), taker)
	if err != nil {
		WriteProtocolError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReverse(w http.ResponseWriter, r *http.Request) {
	taker, ok := caller(w, r)
	if !ok {
		return
	}
	res, err := s.svc.Reverse(r.Context(), pathAddr(r, "key"), taker)
	if err != nil {
		WriteProtocolError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	rc, err := s.svc.FindReceipt(r.Context(), pathAddr(r, "key"), pathAddr(r, "taker"))
	if err != nil {
		WriteProtocolError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rc)
}

func (s *Server) handleFindReceipts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	receipts, err := s.svc.FindAllReceipts(r.Context(), transmuter.ReceiptQuery{
		Transmuter: contracts.Address(q.Get("transmuter")),
		Mutation:   contracts.Address(q.Get("mutation")),
		Taker:      contracts.Address(q.Get("taker")),
		Where:      q.Get("where"),
	})
	if err != nil {
		WriteProtocolError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	j := s.svc.Journal()
	if j == nil {
		WriteNotFound(w, "journal not enabled")
		return
	}
	var from uint64
	if v := r.URL.Query().Get("from"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			WriteBadRequest(w, "from must be a sequence number")
			return
		}
		from = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"head":    j.Head(),
		"entries": j.Entries(from),
	})
}
