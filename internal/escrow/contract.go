package escrow

import (
    "context"
    "encoding/hex"
    "errors"
    "sync"
    "time"

    "github.com/benbjohnson/clock"
    "github.com/mr-tron/base58"
    "golang.org/x/xerrors"
    "lukechampine.com/blake3"

    "github.com/zmlAEQ/Aequa-storage/internal/ledger"
    "github.com/zmlAEQ/Aequa-storage/internal/por"
    "github.com/zmlAEQ/Aequa-storage/internal/por/group"
    "github.com/zmlAEQ/Aequa-storage/internal/por/public"
    "github.com/zmlAEQ/Aequa-storage/pkg/logger"
    "github.com/zmlAEQ/Aequa-storage/pkg/metrics"
)

// Contract refusals. They map to 4xx answers.
var (
    ErrUnauthorized         = errors.New("Unauthorized operation.")
    ErrNoValidationNeeded   = errors.New("No validation needed at this time")
    ErrGenerateAnotherQuery = errors.New("Generate another query before proving")
    ErrInsufficientFunds    = errors.New("Insufficient funds")
    ErrInvalid              = errors.New("Invalid request")
    // ErrProofRejected is the only refusal that says the data is gone.
    ErrProofRejected        = errors.New("Proof verification failed")
)

const (
    // QueryLifetime bounds how long generated queries can be answered.
    QueryLifetime = 30 * time.Minute
    // BuyerRefundAfter lets the buyer withdraw when no proof arrived for this long.
    BuyerRefundAfter = 3 * 24 * time.Hour
    // PaidAfter is the number of accepted proofs before the seller is paid.
    PaidAfter = 5
)

// Contract applies the escrow rules on top of a Store.
type Contract struct {
    mu       sync.Mutex
    store    *Store
    clock    clock.Clock
    sampler  *por.Sampler
    costBase float64
    costRate float64
}

// Options tune a Contract; zero values select the defaults.
type Options struct {
    Clock    clock.Clock
    Sampler  *por.Sampler
    CostBase float64
    CostRate float64
}

func NewContract(s *Store, o Options) *Contract {
    c := &Contract{store: s, clock: o.Clock, sampler: o.Sampler, costBase: o.CostBase, costRate: o.CostRate}
    if c.clock == nil { c.clock = clock.New() }
    if c.sampler == nil { c.sampler = por.NewSampler(nil, group.Order) }
    if c.costBase == 0 && c.costRate == 0 { c.costBase, c.costRate = ledger.DefaultCostBase, ledger.DefaultCostRate }
    return c
}

func (c *Contract) now() int64 { return c.clock.Now().Unix() }

// escrowAddress derives a stable account key from the parties and the id.
func escrowAddress(buyer, seller string, id uint64) string {
    h := blake3.New(32, nil)
    _, _ = h.Write([]byte("aequa-escrow"))
    _, _ = h.Write([]byte(buyer))
    _, _ = h.Write([]byte(seller))
    var b [8]byte
    for i := 0; i < 8; i++ { b[i] = byte(id >> (56 - 8*i)) }
    _, _ = h.Write(b[:])
    return base58.Encode(h.Sum(nil))
}

func (c *Contract) StartSubscription(ctx context.Context, req ledger.StartSubscriptionRequest) (ledger.StartSubscriptionResponse, error) {
    buyer, err := ledger.PubkeyOf(req.BuyerPrivateKey)
    if err != nil { return ledger.StartSubscriptionResponse{}, xerrors.Errorf("%w: buyer key", ErrInvalid) }
    if err := ledger.ValidatePubkey(req.SellerPubkey); err != nil { return ledger.StartSubscriptionResponse{}, xerrors.Errorf("%w: seller key", ErrInvalid) }
    if _, err := public.ParseParams(public.ParamsHex{G: req.G, V: req.V, U: req.U}); err != nil {
        return ledger.StartSubscriptionResponse{}, xerrors.Errorf("%w: %v", ErrInvalid, err)
    }
    if req.NumberOfBlocks == 0 || req.QuerySize == 0 || req.ValidateEvery < 0 {
        return ledger.StartSubscriptionResponse{}, xerrors.Errorf("%w: subscription terms", ErrInvalid)
    }
    c.mu.Lock(); defer c.mu.Unlock()
    id, err := c.store.NextSubscriptionID(ctx)
    if err != nil { return ledger.StartSubscriptionResponse{}, err }
    a := Account{Pubkey: escrowAddress(buyer, req.SellerPubkey, id), EscrowState: ledger.EscrowState{
        BuyerPubkey: buyer, SellerPubkey: req.SellerPubkey, U: req.U, G: req.G, V: req.V,
        NumberOfBlocks: req.NumberOfBlocks, QuerySize: req.QuerySize, ValidateEvery: req.ValidateEvery,
        SubscriptionID: id,
    }}
    if err := c.store.Insert(ctx, a); err != nil { return ledger.StartSubscriptionResponse{}, err }
    logger.InfoJ("escrow_start", map[string]any{"escrow": a.Pubkey, "subscription_id": id, "blocks": req.NumberOfBlocks})
    return ledger.StartSubscriptionResponse{EscrowPubkey: a.Pubkey, SubscriptionID: id}, nil
}

func (c *Contract) AddFunds(ctx context.Context, req ledger.AddFundsRequest) error {
    buyer, err := ledger.PubkeyOf(req.BuyerPrivateKey)
    if err != nil { return xerrors.Errorf("%w: buyer key", ErrInvalid) }
    return c.mutate(ctx, req.EscrowPubkey, func(a *Account) error {
        if a.BuyerPubkey != buyer { return ErrUnauthorized }
        a.Balance += req.Amount
        return nil
    })
}

// GenerateQueries draws min(query_size, n) distinct indices with
// coefficients mod r. Either party may ask.
func (c *Contract) GenerateQueries(ctx context.Context, req ledger.GenerateQueriesRequest) error {
    user, err := ledger.PubkeyOf(req.UserPrivateKey)
    if err != nil { return xerrors.Errorf("%w: user key", ErrInvalid) }
    return c.mutate(ctx, req.EscrowPubkey, func(a *Account) error {
        if user != a.BuyerPubkey && user != a.SellerPubkey { return ErrUnauthorized }
        l := min(a.QuerySize, a.NumberOfBlocks)
        ch, err := c.sampler.SampleN(a.NumberOfBlocks, l)
        if err != nil { return err }
        a.Queries = make([]ledger.Query, len(ch.Items))
        for i, it := range ch.Items { a.Queries[i] = ledger.Query{Index: it.Index, Coeff: it.Coeff} }
        a.QueriesGenerationTime = c.now()
        return nil
    })
}

// Prove checks a proof against the stored queries. On success the
// subscription is extended and, past PaidAfter proofs, the seller is paid.
func (c *Contract) Prove(ctx context.Context, req ledger.ProveRequest) error {
    seller, err := ledger.PubkeyOf(req.SellerPrivateKey)
    if err != nil { return xerrors.Errorf("%w: seller key", ErrInvalid) }
    sigma, err := hex.DecodeString(req.Sigma)
    if err != nil { return xerrors.Errorf("%w: sigma hex", ErrInvalid) }
    mu, err := hex.DecodeString(req.Mu)
    if err != nil { return xerrors.Errorf("%w: mu hex", ErrInvalid) }
    proof, err := public.Scheme{}.UnmarshalProof(sigma, mu)
    if err != nil { return xerrors.Errorf("%w: %v", ErrInvalid, err) }

    return c.mutate(ctx, req.EscrowPubkey, func(a *Account) error {
        if a.SellerPubkey != seller { return ErrUnauthorized }
        now := c.now()
        if now < a.LastProveDate+a.ValidateEvery { return ErrNoValidationNeeded }
        if len(a.Queries) == 0 || now > a.QueriesGenerationTime+int64(QueryLifetime/time.Second) { return ErrGenerateAnotherQuery }
        params, err := a.Params()
        if err != nil { return xerrors.Errorf("%w: %v", ErrInvalid, err) }
        v, err := public.NewVerifier(params, 0)
        if err != nil { return err }
        verdict, err := v.Verify(a.Challenge(), proof)
        if err != nil { return xerrors.Errorf("%w: %v", ErrInvalid, err) }
        metrics.Inc("escrow_proofs_total", map[string]string{"verdict": verdict.String()})
        if !verdict.OK() { return ErrProofRejected }

        a.SubscriptionDuration++
        if a.SubscriptionDuration > PaidAfter {
            amount := uint64(ledger.ProveCost(c.costBase, c.costRate, a.QuerySize))
            if amount > a.Balance { return ErrInsufficientFunds }
            a.Balance -= amount
            if err := c.store.Credit(ctx, a.SellerPubkey, amount); err != nil { return err }
        }
        a.LastProveDate = now
        return nil
    })
}

func (c *Contract) EndByBuyer(ctx context.Context, req ledger.EndByBuyerRequest) error {
    buyer, err := ledger.PubkeyOf(req.BuyerPrivateKey)
    if err != nil { return xerrors.Errorf("%w: buyer key", ErrInvalid) }
    return c.mutate(ctx, req.EscrowPubkey, func(a *Account) error {
        if a.BuyerPubkey != buyer { return ErrUnauthorized }
        a.EndedByBuyer = true
        return nil
    })
}

func (c *Contract) EndBySeller(ctx context.Context, req ledger.EndBySellerRequest) error {
    seller, err := ledger.PubkeyOf(req.SellerPrivateKey)
    if err != nil { return xerrors.Errorf("%w: seller key", ErrInvalid) }
    return c.mutate(ctx, req.EscrowPubkey, func(a *Account) error {
        if a.SellerPubkey != seller { return ErrUnauthorized }
        a.EndedBySeller = true
        return nil
    })
}

// RequestFunds pays out the whole balance. The buyer may withdraw once the
// seller ended the subscription or no proof arrived for BuyerRefundAfter;
// the seller only once the buyer ended it.
func (c *Contract) RequestFunds(ctx context.Context, req ledger.RequestFundsRequest) (uint64, error) {
    user, err := ledger.PubkeyOf(req.UserPrivateKey)
    if err != nil { return 0, xerrors.Errorf("%w: user key", ErrInvalid) }
    var paid uint64
    err = c.mutate(ctx, req.EscrowPubkey, func(a *Account) error {
        switch user {
        case a.BuyerPubkey:
            if !a.EndedBySeller && c.now() <= a.LastProveDate+int64(BuyerRefundAfter/time.Second) { return ErrUnauthorized }
        case a.SellerPubkey:
            if !a.EndedByBuyer { return ErrUnauthorized }
        default:
            return ErrUnauthorized
        }
        paid = a.Balance
        a.Balance = 0
        return c.store.Credit(ctx, user, paid)
    })
    return paid, err
}

func (c *Contract) State(ctx context.Context, escrow string) (ledger.EscrowState, error) {
    a, err := c.store.Get(ctx, escrow)
    if err != nil { return ledger.EscrowState{}, err }
    return a.EscrowState, nil
}

func (c *Contract) mutate(ctx context.Context, escrow string, fn func(*Account) error) error {
    c.mu.Lock(); defer c.mu.Unlock()
    a, err := c.store.Get(ctx, escrow)
    if err != nil { return err }
    if err := fn(&a); err != nil { return err }
    return c.store.Update(ctx, a)
}
