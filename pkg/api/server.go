package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/Mindburn-Labs/transmuter/pkg/contracts"
	"github.com/Mindburn-Labs/transmuter/pkg/transmuter"
)

const maxBodyBytes = 1 << 20

// Faucet creates sandbox tokens and lamports.
type Faucet interface {
	CreateMint(ctx context.Context, mint contracts.Address) error
	MintTo(ctx context.Context, mint, to contracts.Address, amount uint64) error
	Airdrop(ctx context.Context, owner contracts.Address, amount uint64) error
}

// GemDepositor stocks vaults with gems in the sandbox.
type GemDepositor interface {
	DepositGem(ctx context.Context, vault, mint, creator contracts.Address, amount uint64) error
}

// Server exposes a transmuter.Service over HTTP.
type Server struct {
	svc     *transmuter.Service
	logger  *slog.Logger
	auth    *TokenAuthority
	limiter *RateLimiter
	faucet  Faucet
	gems    GemDepositor
	schemas *schemas
	version string
}

// ServerOption configures a Server.
type ServerOption func(*Server)

func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithAuthority sets the bearer token authority. Without one every
// protected route answers 401.
func WithAuthority(a *TokenAuthority) ServerOption {
	return func(s *Server) { s.auth = a }
}

func WithRateLimiter(rl *RateLimiter) ServerOption {
	return func(s *Server) { s.limiter = rl }
}

// WithSandbox mounts the /v1/sandbox routes.
func WithSandbox(f Faucet, g GemDepositor) ServerOption {
	return func(s *Server) {
		s.faucet = f
		s.gems = g
	}
}

func WithVersion(v string) ServerOption {
	return func(s *Server) { s.version = v }
}

// NewServer creates a Server for svc.
func NewServer(svc *transmuter.Service, opts ...ServerOption) (*Server, error) {
	sc, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	s := &Server{svc: svc, schemas: sc, version: "dev"}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "api")
	return s, nil
}

// Handler returns the routed handler with its middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)

	mux.HandleFunc("POST /v1/transmuters", s.handleInitTransmuter)
	mux.HandleFunc("GET /v1/transmuters", s.handleListTransmuters)
	mux.HandleFunc("GET /v1/transmuters/{key}", s.handleGetTransmuter)
	mux.HandleFunc("PUT /v1/transmuters/{key}/owner", s.handleUpdateOwner)
	mux.HandleFunc("POST /v1/transmuters/{key}/banks/{bank}/whitelist", s.handleAddToWhitelist)
	mux.HandleFunc("DELETE /v1/transmuters/{key}/banks/{bank}/whitelist/{addr}", s.handleRemoveFromWhitelist)
	mux.HandleFunc("POST /v1/transmuters/{key}/banks/{bank}/rarities", s.handleAddRarities)
	mux.HandleFunc("POST /v1/transmuters/{key}/mutations", s.handleInitMutation)
	mux.HandleFunc("GET /v1/transmuters/{key}/mutations", s.handleListMutations)

	mux.HandleFunc("GET /v1/mutations/{key}", s.handleGetMutation)
	mux.HandleFunc("DELETE /v1/mutations/{key}", s.handleDestroy)
	mux.HandleFunc("GET /v1/mutations/{key}/escrows", s.handleEscrows)
	mux.HandleFunc("POST /v1/mutations/{key}/vaults", s.handleInitTakerVault)
	mux.HandleFunc("POST /v1/mutations/{key}/execute", s.handleExecute)
	mux.HandleFunc("POST /v1/mutations/{key}/reverse", s.handleReverse)
	mux.HandleFunc("GET /v1/mutations/{key}/receipts/{taker}", s.handleGetReceipt)

	mux.HandleFunc("GET /v1/receipts", s.handleFindReceipts)
	mux.HandleFunc("GET /v1/journal", s.handleJournal)

	if s.faucet != nil && s.gems != nil {
		mux.HandleFunc("POST /v1/sandbox/mints", s.handleCreateMint)
		mux.HandleFunc("POST /v1/sandbox/mints/{mint}/supply", s.handleMintTo)
		mux.HandleFunc("POST /v1/sandbox/airdrop", s.handleAirdrop)
		mux.HandleFunc("POST /v1/sandbox/vaults/{vault}/gems", s.handleDepositGem)
	}

	var h http.Handler = mux
	if s.limiter != nil {
		h = s.limiter.Middleware(h)
	}
	h = AuthMiddleware(s.auth)(h)
	h = s.recoverer(h)
	h = s.accessLog(h)
	return RequestIDMiddleware(h)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.DebugContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", RequestID(r.Context()))
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.logger.ErrorContext(r.Context(), "handler panic", "panic", v, "stack", string(debug.Stack()))
				WriteInternal(w, fmt.Errorf("panic: %v", v))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// caller returns the authenticated signer or answers 401.
func caller(w http.ResponseWriter, r *http.Request) (contracts.Address, bool) {
	c, ok := CallerFrom(r.Context())
	if !ok {
		WriteUnauthorized(w, "")
	}
	return c, ok
}

func pathAddr(r *http.Request, name string) contracts.Address {
	return contracts.Address(r.PathValue(name))
}

func slotMap[V any](in map[contracts.SlotIndex]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k.String()] = v
	}
	return out
}
