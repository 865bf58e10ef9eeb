// Package ledger talks to the escrow that pays for audited storage. The
// storage node only needs the Ledger view; owners use the extra Gateway
// calls to open and fund subscriptions.
package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"strconv"
	"strings"
	"time"

	"golang.org/x/xerrors"

	"github.com/zmlAEQ/Aequa-storage/internal/por"
	"github.com/zmlAEQ/Aequa-storage/internal/por/group"
	"github.com/zmlAEQ/Aequa-storage/internal/por/public"
)

var (
	// ErrTransport covers network failures, timeouts and 5xx answers. The
	// caller retries on its next period.
	ErrTransport  = errors.New("ledger: transport failure")
	ErrInvalidKey = errors.New("ledger: invalid key")
	ErrBadReply   = errors.New("ledger: malformed reply")
)

// Messages the gateway answers with on success.
const (
	MsgProofSubmitted       = "Proof submitted successfully"
	MsgSubscriptionExtended = "Subscription extended successfully"
)

// Ledger is the storage node's view of the escrow.
type Ledger interface {
	EscrowState(ctx context.Context, escrow string) (EscrowState, error)
	// Challenge asks the escrow for fresh queries and returns them.
	Challenge(ctx context.Context, escrow string) (por.Challenge, error)
	SubmitProof(ctx context.Context, escrow string, sigma, mu []byte) (Receipt, error)
	RequestFunds(ctx context.Context, escrow string) (Receipt, error)
	// EndSubscription ends the subscription on the seller's side.
	EndSubscription(ctx context.Context, escrow string) (Receipt, error)
}

// Receipt is the outcome of a state-changing call that reached the ledger.
type Receipt struct {
	Accepted bool `json:"accepted"`
	// Rejected is set only when the ledger checked a well-formed proof and
	// found it wrong. Other refusals leave it false.
	Rejected bool   `json:"rejected,omitempty"`
	Message  string `json:"message"`
	Status   int    `json:"status"`
}

// Query is one (index, coefficient) pair. On the wire it is a two element
// array [index, "0x<64 hex>"].
type Query struct {
	Index uint64
	Coeff *big.Int
}

func (q Query) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{q.Index, FormatCoeff(q.Coeff)})
}

func (q *Query) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return xerrors.Errorf("%w: query has %d fields", ErrBadReply, len(raw))
	}
	idx, err := strconv.ParseUint(strings.TrimSpace(string(raw[0])), 10, 64)
	if err != nil {
		return xerrors.Errorf("%w: query index: %v", ErrBadReply, err)
	}
	var s string
	if err := json.Unmarshal(raw[1], &s); err != nil {
		return xerrors.Errorf("%w: query coefficient: %v", ErrBadReply, err)
	}
	c, err := ParseCoeff(s)
	if err != nil {
		return err
	}
	q.Index, q.Coeff = idx, c
	return nil
}

// FormatCoeff renders v mod r as 0x-prefixed 32-byte big-endian hex.
func FormatCoeff(v *big.Int) string {
	return "0x" + hex.EncodeToString(group.ScalarBytes(v))
}

// ParseCoeff accepts hex with or without 0x and reduces it mod r.
func ParseCoeff(s string) (*big.Int, error) {
	h := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if h == "" || len(h) > 64 {
		return nil, xerrors.Errorf("%w: coefficient %q", ErrBadReply, s)
	}
	v, ok := new(big.Int).SetString(h, 16)
	if !ok {
		return nil, xerrors.Errorf("%w: coefficient %q", ErrBadReply, s)
	}
	return group.Reduce(v), nil
}

// EscrowState mirrors the escrow account as the gateway reports it.
type EscrowState struct {
	BuyerPubkey           string  `json:"buyer_pubkey"`
	SellerPubkey          string  `json:"seller_pubkey"`
	U                     string  `json:"u"`
	G                     string  `json:"g"`
	V                     string  `json:"v"`
	NumberOfBlocks        uint64  `json:"number_of_blocks"`
	QuerySize             uint64  `json:"query_size"`
	ValidateEvery         int64   `json:"validate_every"`
	LastProveDate         int64   `json:"last_prove_date"`
	Balance               uint64  `json:"balance"`
	Queries               []Query `json:"queries"`
	QueriesGenerationTime int64   `json:"queries_generation_time"`
	EndedByBuyer          bool    `json:"is_subscription_ended_by_buyer"`
	EndedBySeller         bool    `json:"is_subscription_ended_by_seller"`
	SubscriptionDuration  uint64  `json:"subscription_duration"`
	SubscriptionID        uint64  `json:"subscription_id"`
}

// Params parses the public verification parameters stored in the escrow.
func (s EscrowState) Params() (public.Params, error) {
	return public.ParseParams(public.ParamsHex{G: s.G, V: s.V, U: s.U})
}

// Challenge converts the stored queries.
func (s EscrowState) Challenge() por.Challenge {
	items := make([]por.Item, len(s.Queries))
	for i, q := range s.Queries {
		items[i] = por.Item{Index: q.Index, Coeff: q.Coeff}
	}
	return por.Challenge{Items: items}
}

func (s EscrowState) ValidateInterval() time.Duration {
	return time.Duration(s.ValidateEvery) * time.Second
}

// ProveCost is the balance a proof must be able to pay for:
// base + rate × query_size.
func ProveCost(base, rate float64, querySize uint64) float64 {
	return base + rate*float64(querySize)
}

// Default prove pricing.
const (
	DefaultCostBase = 1.0
	DefaultCostRate = 0.05
)

// Wire requests, named after the gateway endpoints.

type StartSubscriptionRequest struct {
	QuerySize       uint64 `json:"query_size"`
	NumberOfBlocks  uint64 `json:"number_of_blocks"`
	U               string `json:"u"`
	G               string `json:"g"`
	V               string `json:"v"`
	ValidateEvery   int64  `json:"validate_every"`
	BuyerPrivateKey string `json:"buyer_private_key"`
	SellerPubkey    string `json:"seller_pubkey"`
}

type StartSubscriptionResponse struct {
	EscrowPubkey   string `json:"escrow_pubkey"`
	SubscriptionID uint64 `json:"subscription_id"`
}

type AddFundsRequest struct {
	BuyerPrivateKey string `json:"buyer_private_key"`
	EscrowPubkey    string `json:"escrow_pubkey"`
	Amount          uint64 `json:"amount"`
}

type ProveRequest struct {
	SellerPrivateKey string `json:"seller_private_key"`
	EscrowPubkey     string `json:"escrow_pubkey"`
	Sigma            string `json:"sigma"`
	Mu               string `json:"mu"`
}

type EndByBuyerRequest struct {
	BuyerPrivateKey string `json:"buyer_private_key"`
	EscrowPubkey    string `json:"escrow_pubkey"`
}

type EndBySellerRequest struct {
	SellerPrivateKey string `json:"seller_private_key"`
	EscrowPubkey     string `json:"escrow_pubkey"`
}

type RequestFundsRequest struct {
	UserPrivateKey string `json:"user_private_key"`
	EscrowPubkey   string `json:"escrow_pubkey"`
}

type GenerateQueriesRequest struct {
	EscrowPubkey   string `json:"escrow_pubkey"`
	UserPrivateKey string `json:"user_private_key"`
}

type EscrowRequest struct {
	EscrowPubkey string `json:"escrow_pubkey"`
}

type QueriesResponse struct {
	Queries []Query `json:"queries"`
}

// MessageResponse is the body of every state-changing endpoint. Accepted
// is optional; when present it overrides message matching.
type MessageResponse struct {
	Message  string `json:"message"`
	Accepted *bool  `json:"accepted,omitempty"`
}
