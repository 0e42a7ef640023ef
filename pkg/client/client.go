// Package client is a typed Go client for the transmuter HTTP API.
//
// Protocol rejections come back as *APIError values that unwrap to the
// matching *contracts.Error, so callers can test them with errors.Is
// against the contracts sentinels exactly as they would in-process.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Mindburn-Labs/transmuter/pkg/api"
	"github.com/Mindburn-Labs/transmuter/pkg/bank"
	"github.com/Mindburn-Labs/transmuter/pkg/contracts"
	"github.com/Mindburn-Labs/transmuter/pkg/journal"
	"github.com/Mindburn-Labs/transmuter/pkg/transmuter"
)

// APIError is returned when the API responds with a non-2xx status.
type APIError struct {
	Status int
	Title  string
	Detail string
	// Code is zero for transport-level failures such as 401 or 429.
	Code contracts.ErrorCode
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("transmuter api %d: %s (%s)", e.Status, e.Detail, e.Code.Name())
	}
	return fmt.Sprintf("transmuter api %d: %s: %s", e.Status, e.Title, e.Detail)
}

// Unwrap exposes the protocol error, if any.
func (e *APIError) Unwrap() error {
	if e.Code == 0 {
		return nil
	}
	return &contracts.Error{Code: e.Code, Detail: e.Detail}
}

// Client talks to one transmuter server as one caller.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithToken sets the bearer token identifying the caller.
func WithToken(token string) Option {
	return func(c *Client) { c.Token = token }
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.HTTPClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.HTTPClient = h }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var p api.ProblemDetail
		if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
			return &APIError{Status: resp.StatusCode, Title: http.StatusText(resp.StatusCode), Detail: "unreadable error body"}
		}
		return &APIError{
			Status: resp.StatusCode,
			Title:  p.Title,
			Detail: p.Detail,
			Code:   contracts.ErrorCode(p.Code),
		}
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// Version calls GET /version.
func (c *Client) Version(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	err := c.do(ctx, http.MethodGet, "/version", nil, &out)
	return out.Version, err
}

// InitTransmuter creates a registry root owned by the caller.
func (c *Client) InitTransmuter(ctx context.Context, body api.InitTransmuterBody) (*contracts.Transmuter, error) {
	var out contracts.Transmuter
	if err := c.do(ctx, http.MethodPost, "/v1/transmuters", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Transmuters(ctx context.Context) ([]*contracts.Transmuter, error) {
	var out []*contracts.Transmuter
	err := c.do(ctx, http.MethodGet, "/v1/transmuters", nil, &out)
	return out, err
}

func (c *Client) Transmuter(ctx context.Context, key contracts.Address) (*contracts.Transmuter, error) {
	var out contracts.Transmuter
	if err := c.do(ctx, http.MethodGet, "/v1/transmuters/"+esc(key), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateOwner hands the root to newOwner. The caller must be the owner.
func (c *Client) UpdateOwner(ctx context.Context, key, newOwner contracts.Address) (*contracts.Transmuter, error) {
	var out contracts.Transmuter
	body := map[string]contracts.Address{"owner": newOwner}
	if err := c.do(ctx, http.MethodPut, "/v1/transmuters/"+esc(key)+"/owner", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AddToWhitelist(ctx context.Context, key, b, addr contracts.Address, kind bank.WhitelistKind) error {
	body := map[string]any{"address": addr, "kind": kind}
	return c.do(ctx, http.MethodPost, "/v1/transmuters/"+esc(key)+"/banks/"+esc(b)+"/whitelist", body, nil)
}

func (c *Client) RemoveFromWhitelist(ctx context.Context, key, b, addr contracts.Address) error {
	return c.do(ctx, http.MethodDelete, "/v1/transmuters/"+esc(key)+"/banks/"+esc(b)+"/whitelist/"+esc(addr), nil, nil)
}

func (c *Client) AddRarities(ctx context.Context, key, b contracts.Address, rarities []bank.Rarity) error {
	body := map[string]any{"rarities": rarities}
	return c.do(ctx, http.MethodPost, "/v1/transmuters/"+esc(key)+"/banks/"+esc(b)+"/rarities", body, nil)
}

// InitMutation creates a mutation under root, funded by the caller.
func (c *Client) InitMutation(ctx context.Context, root contracts.Address, body api.InitMutationBody) (*contracts.Mutation, error) {
	var out contracts.Mutation
	if err := c.do(ctx, http.MethodPost, "/v1/transmuters/"+esc(root)+"/mutations", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Mutations(ctx context.Context, root contracts.Address) ([]*contracts.Mutation, error) {
	var out []*contracts.Mutation
	err := c.do(ctx, http.MethodGet, "/v1/transmuters/"+esc(root)+"/mutations", nil, &out)
	return out, err
}

func (c *Client) Mutation(ctx context.Context, key contracts.Address) (*contracts.Mutation, error) {
	var out contracts.Mutation
	if err := c.do(ctx, http.MethodGet, "/v1/mutations/"+esc(key), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Destroy closes an exhausted or unused mutation, returning escrow leftovers
// to its maker.
func (c *Client) Destroy(ctx context.Context, key contracts.Address) (*api.DestroyResponse, error) {
	var out api.DestroyResponse
	if err := c.do(ctx, http.MethodDelete, "/v1/mutations/"+esc(key), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EscrowBalances returns the payout escrow balances keyed by slot letter.
func (c *Client) EscrowBalances(ctx context.Context, key contracts.Address) (map[string]uint64, error) {
	var out map[string]uint64
	err := c.do(ctx, http.MethodGet, "/v1/mutations/"+esc(key)+"/escrows", nil, &out)
	return out, err
}

// InitTakerVault creates the caller's vault for the mutation in bank b.
func (c *Client) InitTakerVault(ctx context.Context, mutation, b contracts.Address) (*contracts.Vault, error) {
	var out contracts.Vault
	body := map[string]contracts.Address{"bank": b}
	if err := c.do(ctx, http.MethodPost, "/v1/mutations/"+esc(mutation)+"/vaults", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Execute(ctx context.Context, mutation contracts.Address) (*transmuter.Execution, error) {
	var out transmuter.Execution
	if err := c.do(ctx, http.MethodPost, "/v1/mutations/"+esc(mutation)+"/execute", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Reverse(ctx context.Context, mutation contracts.Address) (*transmuter.Execution, error) {
	var out transmuter.Execution
	if err := c.do(ctx, http.MethodPost, "/v1/mutations/"+esc(mutation)+"/reverse", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Receipt(ctx context.Context, mutation, taker contracts.Address) (*contracts.ExecutionReceipt, error) {
	var out contracts.ExecutionReceipt
	if err := c.do(ctx, http.MethodGet, "/v1/mutations/"+esc(mutation)+"/receipts/"+esc(taker), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Receipts runs a receipt query on the server.
func (c *Client) Receipts(ctx context.Context, q transmuter.ReceiptQuery) ([]*contracts.ExecutionReceipt, error) {
	v := url.Values{}
	for k, s := range map[string]string{
		"transmuter": q.Transmuter.String(),
		"mutation":   q.Mutation.String(),
		"taker":      q.Taker.String(),
		"where":      q.Where,
	} {
		if s != "" {
			v.Set(k, s)
		}
	}
	path := "/v1/receipts"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	var out []*contracts.ExecutionReceipt
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// JournalPage is the response of GET /v1/journal.
type JournalPage struct {
	Head    string          `json:"head"`
	Entries []journal.Entry `json:"entries"`
}

// Journal returns the entries from sequence from onwards. The chain is
// verified before it is returned when from is 0 or 1.
func (c *Client) Journal(ctx context.Context, from uint64) (*JournalPage, error) {
	var out JournalPage
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/journal?from=%d", from), nil, &out); err != nil {
		return nil, err
	}
	if from <= 1 {
		if err := journal.VerifyChain(out.Entries); err != nil {
			return nil, fmt.Errorf("journal from server: %w", err)
		}
	}
	return &out, nil
}

// Sandbox groups the routes available when the server runs with SANDBOX=true.
type Sandbox struct{ c *Client }

func (c *Client) Sandbox() Sandbox {
	return Sandbox{c: c}
}

func (s Sandbox) CreateMint(ctx context.Context, mint contracts.Address) error {
	return s.c.do(ctx, http.MethodPost, "/v1/sandbox/mints", map[string]contracts.Address{"mint": mint}, nil)
}

// MintTo mints amount of mint to to; a zero to means the caller.
func (s Sandbox) MintTo(ctx context.Context, mint, to contracts.Address, amount uint64) error {
	body := map[string]any{"to": to, "amount": amount}
	return s.c.do(ctx, http.MethodPost, "/v1/sandbox/mints/"+esc(mint)+"/supply", body, nil)
}

// Airdrop credits lamports; a zero to means the caller.
func (s Sandbox) Airdrop(ctx context.Context, to contracts.Address, lamports uint64) error {
	body := map[string]any{"to": to, "amount": lamports}
	return s.c.do(ctx, http.MethodPost, "/v1/sandbox/airdrop", body, nil)
}

func (s Sandbox) DepositGem(ctx context.Context, vault, mint, creator contracts.Address, amount uint64) error {
	body := map[string]any{"mint": mint, "creator": creator, "amount": amount}
	return s.c.do(ctx, http.MethodPost, "/v1/sandbox/vaults/"+esc(vault)+"/gems", body, nil)
}

func esc(a contracts.Address) string {
	return url.PathEscape(a.String())
}
