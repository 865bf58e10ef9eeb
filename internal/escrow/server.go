package escrow

import (
    "context"
    "encoding/json"
    "errors"
    "net/http"
    "time"

    "github.com/gorilla/mux"

    "github.com/zmlAEQ/Aequa-storage/internal/ledger"
    "github.com/zmlAEQ/Aequa-storage/pkg/logger"
    "github.com/zmlAEQ/Aequa-storage/pkg/metrics"
)

// Server exposes a Contract with the gateway's endpoint names.
type Server struct {
    c    *Contract
    addr string
    srv  *http.Server
}

func NewServer(addr string, c *Contract) *Server { return &Server{c: c, addr: addr} }

func (s *Server) Name() string { return "escrow-sim" }

// Router returns the handler tree.
func (s *Server) Router() http.Handler {
    r := mux.NewRouter()
    r.HandleFunc("/start_subscription", s.handleStart).Methods(http.MethodPost)
    r.HandleFunc("/add_funds_to_subscription", s.handleAddFunds).Methods(http.MethodPost)
    r.HandleFunc("/prove", s.handleProve).Methods(http.MethodPost)
    r.HandleFunc("/prove_simulation", s.handleProve).Methods(http.MethodPost)
    r.HandleFunc("/end_subscription_by_buyer", s.handleEndByBuyer).Methods(http.MethodPost)
    r.HandleFunc("/end_subscription_by_seller", s.handleEndBySeller).Methods(http.MethodPost)
    r.HandleFunc("/generate_queries", s.handleGenerate).Methods(http.MethodPost)
    r.HandleFunc("/request_funds", s.handleRequestFunds).Methods(http.MethodPost)
    r.HandleFunc("/get_queries_by_escrow", s.handleQueries).Methods(http.MethodPost)
    r.HandleFunc("/get_escrow_data", s.handleState).Methods(http.MethodPost)
    r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
    r.Use(observe)
    return r
}

func observe(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        begin := time.Now()
        next.ServeHTTP(w, r)
        metrics.ObserveSummary("escrow_api_ms", map[string]string{"path": r.URL.Path}, float64(time.Since(begin).Milliseconds()))
    })
}

func (s *Server) Start(ctx context.Context) error {
    s.srv = &http.Server{Addr: s.addr, Handler: s.Router(), ReadHeaderTimeout: 5 * time.Second}
    go func() {
        if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            logger.ErrorJ("escrow_server", map[string]any{"addr": s.addr, "result": "error", "err": err.Error()})
        }
    }()
    logger.InfoJ("escrow_server", map[string]any{"addr": s.addr, "result": "listening"})
    return nil
}

func (s *Server) Stop(ctx context.Context) error {
    if s.srv == nil { return nil }
    return s.srv.Shutdown(ctx)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
    if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
        writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json: " + err.Error()})
        return false
    }
    return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(code)
    _ = json.NewEncoder(w).Encode(v)
}

func fail(w http.ResponseWriter, op string, err error) {
    code := http.StatusInternalServerError
    switch {
    case errors.Is(err, ErrNotFound):
        code = http.StatusNotFound
    case errors.Is(err, ErrInvalid):
        code = http.StatusBadRequest
    case errors.Is(err, ErrProofRejected):
        code = ledger.StatusProofRejected
    case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrNoValidationNeeded),
        errors.Is(err, ErrGenerateAnotherQuery), errors.Is(err, ErrInsufficientFunds):
        code = http.StatusForbidden
    }
    metrics.Inc("escrow_refusals_total", map[string]string{"op": op, "code": http.StatusText(code)})
    logger.InfoJ("escrow_"+op, map[string]any{"result": "refused", "code": code, "err": err.Error()})
    writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
    var req ledger.StartSubscriptionRequest
    if !decode(w, r, &req) { return }
    out, err := s.c.StartSubscription(r.Context(), req)
    if err != nil { fail(w, "start", err); return }
    writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddFunds(w http.ResponseWriter, r *http.Request) {
    var req ledger.AddFundsRequest
    if !decode(w, r, &req) { return }
    if err := s.c.AddFunds(r.Context(), req); err != nil { fail(w, "add_funds", err); return }
    writeJSON(w, http.StatusOK, ledger.MessageResponse{Message: ledger.MsgSubscriptionExtended})
}

func (s *Server) handleProve(w http.ResponseWriter, r *http.Request) {
    var req ledger.ProveRequest
    if !decode(w, r, &req) { return }
    if err := s.c.Prove(r.Context(), req); err != nil { fail(w, "prove", err); return }
    writeJSON(w, http.StatusOK, ledger.MessageResponse{Message: ledger.MsgProofSubmitted})
}

func (s *Server) handleEndByBuyer(w http.ResponseWriter, r *http.Request) {
    var req ledger.EndByBuyerRequest
    if !decode(w, r, &req) { return }
    if err := s.c.EndByBuyer(r.Context(), req); err != nil { fail(w, "end_by_buyer", err); return }
    writeJSON(w, http.StatusOK, ledger.MessageResponse{Message: "Subscription ended successfully"})
}

func (s *Server) handleEndBySeller(w http.ResponseWriter, r *http.Request) {
    var req ledger.EndBySellerRequest
    if !decode(w, r, &req) { return }
    if err := s.c.EndBySeller(r.Context(), req); err != nil { fail(w, "end_by_seller", err); return }
    writeJSON(w, http.StatusOK, ledger.MessageResponse{Message: "Subscription ended successfully"})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
    var req ledger.GenerateQueriesRequest
    if !decode(w, r, &req) { return }
    if err := s.c.GenerateQueries(r.Context(), req); err != nil { fail(w, "generate_queries", err); return }
    writeJSON(w, http.StatusOK, ledger.MessageResponse{Message: "Queries generated successfully"})
}

func (s *Server) handleRequestFunds(w http.ResponseWriter, r *http.Request) {
    var req ledger.RequestFundsRequest
    if !decode(w, r, &req) { return }
    if _, err := s.c.RequestFunds(r.Context(), req); err != nil { fail(w, "request_funds", err); return }
    writeJSON(w, http.StatusOK, ledger.MessageResponse{Message: "Funds transferred successfully"})
}

func (s *Server) handleQueries(w http.ResponseWriter, r *http.Request) {
    var req ledger.EscrowRequest
    if !decode(w, r, &req) { return }
    st, err := s.c.State(r.Context(), req.EscrowPubkey)
    if err != nil { fail(w, "get_queries", err); return }
    q := st.Queries
    if q == nil { q = []ledger.Query{} }
    writeJSON(w, http.StatusOK, ledger.QueriesResponse{Queries: q})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
    var req ledger.EscrowRequest
    if !decode(w, r, &req) { return }
    st, err := s.c.State(r.Context(), req.EscrowPubkey)
    if err != nil { fail(w, "get_escrow_data", err); return }
    if st.Queries == nil { st.Queries = []ledger.Query{} }
    writeJSON(w, http.StatusOK, st)
}
