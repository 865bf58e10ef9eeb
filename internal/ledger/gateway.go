package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"golang.org/x/xerrors"

	"github.com/zmlAEQ/Aequa-storage/internal/por"
	"github.com/zmlAEQ/Aequa-storage/pkg/logger"
	"github.com/zmlAEQ/Aequa-storage/pkg/metrics"
	"github.com/zmlAEQ/Aequa-storage/pkg/trace"
)

// DefaultBaseURL is where the escrow gateway listens by default.
const DefaultBaseURL = "http://127.0.0.1:3030"

// Config configures a Gateway.
type Config struct {
	BaseURL string
	// SellerKey is the storage node's Base58 keypair. Owner-only clients may
	// leave it empty.
	SellerKey string
	Timeout   time.Duration
	// RatePerSec and Burst bound outgoing calls; zero disables limiting.
	RatePerSec float64
	Burst      int
	// Simulate submits proofs to prove_simulation instead of prove.
	Simulate bool
}

// StatusProofRejected is the answer to a proof that failed verification.
const StatusProofRejected = http.StatusUnprocessableEntity

// Gateway is the HTTP client for the escrow gateway.
type Gateway struct {
	base     string
	seller   string
	timeout  time.Duration
	simulate bool
	client   *http.Client
	limiter  *rate.Limiter
}

var _ Ledger = (*Gateway)(nil)

func NewGateway(cfg Config) (*Gateway, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if cfg.SellerKey != "" {
		if _, err := PubkeyOf(cfg.SellerKey); err != nil {
			return nil, err
		}
	}
	g := &Gateway{base: base, seller: cfg.SellerKey, timeout: cfg.Timeout, simulate: cfg.Simulate, client: &http.Client{}}
	if g.timeout <= 0 {
		g.timeout = 10 * time.Second
	}
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return g, nil
}

// call POSTs req to path and decodes a 2xx body into out. Transport
// failures and 5xx become ErrTransport; other statuses are returned with the
// body text for the caller to classify.
func (g *Gateway) call(ctx context.Context, path string, req, out any) (int, string, error) {
	begin := time.Now()
	ctx, tid := trace.Ensure(ctx)
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return 0, "", xerrors.Errorf("%w: rate limit: %v", ErrTransport, err)
		}
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	payload, err := json.Marshal(req)
	if err != nil {
		return 0, "", err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.base+"/"+path, bytes.NewReader(payload))
	if err != nil {
		return 0, "", err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("X-Trace-Id", tid)
	resp, err := g.client.Do(hreq)
	if err != nil {
		metrics.Inc("ledger_calls_total", map[string]string{"op": path, "result": "transport"})
		logger.WarnJ("ledger_call", map[string]any{"op": path, "result": "transport", "err": err.Error(), "trace_id": tid})
		return 0, "", xerrors.Errorf("%w: %s: %v", ErrTransport, path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return resp.StatusCode, "", xerrors.Errorf("%w: %s: read: %v", ErrTransport, path, err)
	}
	ms := float64(time.Since(begin).Milliseconds())
	metrics.ObserveSummary("ledger_call_ms", map[string]string{"op": path}, ms)
	fields := map[string]any{"op": path, "code": resp.StatusCode, "latency_ms": ms, "trace_id": tid}
	switch {
	case resp.StatusCode >= 500:
		metrics.Inc("ledger_calls_total", map[string]string{"op": path, "result": "remote_error"})
		logger.WarnJ("ledger_call", fields)
		return resp.StatusCode, string(body), xerrors.Errorf("%w: %s: status %d", ErrTransport, path, resp.StatusCode)
	case resp.StatusCode >= 300:
		metrics.Inc("ledger_calls_total", map[string]string{"op": path, "result": "refused"})
		logger.InfoJ("ledger_call", fields)
		return resp.StatusCode, strings.TrimSpace(string(body)), nil
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return resp.StatusCode, "", xerrors.Errorf("%w: %s: %v", ErrBadReply, path, err)
		}
	}
	metrics.Inc("ledger_calls_total", map[string]string{"op": path, "result": "ok"})
	logger.DebugJ("ledger_call", fields)
	return resp.StatusCode, "", nil
}

// receipt classifies a state-changing call.
func (g *Gateway) receipt(ctx context.Context, path string, req any, accept ...string) (Receipt, error) {
	var mr MessageResponse
	code, text, err := g.call(ctx, path, req, &mr)
	if err != nil {
		return Receipt{}, err
	}
	if code >= 300 {
		return Receipt{Accepted: false, Message: text, Status: code}, nil
	}
	ok := mr.Accepted == nil && len(accept) == 0
	if mr.Accepted != nil {
		ok = *mr.Accepted
	} else {
		for _, a := range accept {
			if mr.Message == a {
				ok = true
			}
		}
	}
	return Receipt{Accepted: ok, Message: mr.Message, Status: code}, nil
}

func (g *Gateway) needSeller() error {
	if g.seller == "" {
		return xerrors.Errorf("%w: no seller key configured", ErrInvalidKey)
	}
	return nil
}

func (g *Gateway) EscrowState(ctx context.Context, escrow string) (EscrowState, error) {
	if err := ValidatePubkey(escrow); err != nil {
		return EscrowState{}, err
	}
	var st EscrowState
	code, text, err := g.call(ctx, "get_escrow_data", EscrowRequest{EscrowPubkey: escrow}, &st)
	if err != nil {
		return EscrowState{}, err
	}
	if code >= 300 {
		return EscrowState{}, xerrors.Errorf("%w: get_escrow_data %d: %s", ErrBadReply, code, text)
	}
	return st, nil
}

func (g *Gateway) Challenge(ctx context.Context, escrow string) (por.Challenge, error) {
	if err := g.needSeller(); err != nil {
		return por.Challenge{}, err
	}
	if err := ValidatePubkey(escrow); err != nil {
		return por.Challenge{}, err
	}
	rc, err := g.receipt(ctx, "generate_queries", GenerateQueriesRequest{EscrowPubkey: escrow, UserPrivateKey: g.seller})
	if err != nil {
		return por.Challenge{}, err
	}
	if !rc.Accepted {
		return por.Challenge{}, xerrors.Errorf("%w: generate_queries refused (%d): %s", ErrBadReply, rc.Status, rc.Message)
	}
	var qr QueriesResponse
	code, text, err := g.call(ctx, "get_queries_by_escrow", EscrowRequest{EscrowPubkey: escrow}, &qr)
	if err != nil {
		return por.Challenge{}, err
	}
	if code >= 300 {
		return por.Challenge{}, xerrors.Errorf("%w: get_queries_by_escrow %d: %s", ErrBadReply, code, text)
	}
	return EscrowState{Queries: qr.Queries}.Challenge(), nil
}

func (g *Gateway) SubmitProof(ctx context.Context, escrow string, sigma, mu []byte) (Receipt, error) {
	if err := g.needSeller(); err != nil {
		return Receipt{}, err
	}
	path := "prove"
	if g.simulate {
		path = "prove_simulation"
	}
	req := ProveRequest{SellerPrivateKey: g.seller, EscrowPubkey: escrow, Sigma: hex.EncodeToString(sigma), Mu: hex.EncodeToString(mu)}
	rc, err := g.receipt(ctx, path, req, MsgProofSubmitted, MsgSubscriptionExtended)
	if err != nil {
		return Receipt{}, err
	}
	rc.Rejected = !rc.Accepted && rc.Status == StatusProofRejected
	return rc, nil
}

func (g *Gateway) RequestFunds(ctx context.Context, escrow string) (Receipt, error) {
	if err := g.needSeller(); err != nil {
		return Receipt{}, err
	}
	return g.RequestFundsAs(ctx, g.seller, escrow)
}

func (g *Gateway) EndSubscription(ctx context.Context, escrow string) (Receipt, error) {
	if err := g.needSeller(); err != nil {
		return Receipt{}, err
	}
	return g.receipt(ctx, "end_subscription_by_seller", EndBySellerRequest{SellerPrivateKey: g.seller, EscrowPubkey: escrow})
}

// Owner-side calls.

func (g *Gateway) StartSubscription(ctx context.Context, req StartSubscriptionRequest) (StartSubscriptionResponse, error) {
	if _, err := PubkeyOf(req.BuyerPrivateKey); err != nil {
		return StartSubscriptionResponse{}, err
	}
	if err := ValidatePubkey(req.SellerPubkey); err != nil {
		return StartSubscriptionResponse{}, err
	}
	var out StartSubscriptionResponse
	code, text, err := g.call(ctx, "start_subscription", req, &out)
	if err != nil {
		return out, err
	}
	if code >= 300 {
		return out, xerrors.Errorf("%w: start_subscription %d: %s", ErrBadReply, code, text)
	}
	return out, nil
}

func (g *Gateway) AddFunds(ctx context.Context, buyerKey, escrow string, amount uint64) (Receipt, error) {
	if _, err := PubkeyOf(buyerKey); err != nil {
		return Receipt{}, err
	}
	return g.receipt(ctx, "add_funds_to_subscription", AddFundsRequest{BuyerPrivateKey: buyerKey, EscrowPubkey: escrow, Amount: amount})
}

func (g *Gateway) EndSubscriptionByBuyer(ctx context.Context, buyerKey, escrow string) (Receipt, error) {
	if _, err := PubkeyOf(buyerKey); err != nil {
		return Receipt{}, err
	}
	return g.receipt(ctx, "end_subscription_by_buyer", EndByBuyerRequest{BuyerPrivateKey: buyerKey, EscrowPubkey: escrow})
}

// RequestFundsAs withdraws the escrow balance on behalf of userKey.
func (g *Gateway) RequestFundsAs(ctx context.Context, userKey, escrow string) (Receipt, error) {
	if _, err := PubkeyOf(userKey); err != nil {
		return Receipt{}, err
	}
	return g.receipt(ctx, "request_funds", RequestFundsRequest{UserPrivateKey: userKey, EscrowPubkey: escrow})
}

// IsTransport reports whether err should be retried on the next period.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, context.DeadlineExceeded)
}
