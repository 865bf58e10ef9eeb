package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGateway(t *testing.T, h http.HandlerFunc) *Gateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	seller, _, err := NewKeypair()
	require.NoError(t, err)
	g, err := NewGateway(Config{BaseURL: srv.URL, SellerKey: seller, Timeout: 200 * time.Millisecond})
	require.NoError(t, err)
	return g
}

func escrowKey(t *testing.T) string {
	_, pub, err := NewKeypair()
	require.NoError(t, err)
	return pub
}

func reply(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestSubmitProof_Classification(t *testing.T) {
	cases := []struct {
		name     string
		code     int
		body     any
		accepted bool
		rejected bool
		transErr bool
	}{
		{"submitted", 200, MessageResponse{Message: MsgProofSubmitted}, true, false, false},
		{"extended", 200, MessageResponse{Message: MsgSubscriptionExtended}, true, false, false},
		{"other message", 200, MessageResponse{Message: "something else"}, false, false, false},
		{"explicit false", 200, map[string]any{"message": MsgProofSubmitted, "accepted": false}, false, false, false},
		{"refused", 400, map[string]string{"error": "Unauthorized"}, false, false, false},
		{"not due", 403, map[string]string{"error": "No validation needed at this time"}, false, false, false},
		{"failed verification", StatusProofRejected, map[string]string{"error": "Proof verification failed"}, false, true, false},
		{"server error", 502, nil, false, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/prove", r.URL.Path)
				var req ProveRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Len(t, req.Sigma, 96)
				assert.Len(t, req.Mu, 64)
				reply(w, tc.code, tc.body)
			})
			rc, err := g.SubmitProof(context.Background(), escrowKey(t), make([]byte, 48), make([]byte, 32))
			if tc.transErr {
				require.ErrorIs(t, err, ErrTransport)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.accepted, rc.Accepted)
			assert.Equal(t, tc.rejected, rc.Rejected)
			assert.Equal(t, tc.code, rc.Status)
		})
	}
}

func TestCall_TimeoutIsTransport(t *testing.T) {
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		reply(w, 200, MessageResponse{Message: MsgProofSubmitted})
	})
	_, err := g.SubmitProof(context.Background(), escrowKey(t), make([]byte, 48), make([]byte, 32))
	require.Error(t, err)
	assert.True(t, IsTransport(err))
}

func TestChallenge_GenerateThenFetch(t *testing.T) {
	var calls []string
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.Path)
		switch r.URL.Path {
		case "/generate_queries":
			reply(w, 200, MessageResponse{Message: "Queries generated successfully"})
		case "/get_queries_by_escrow":
			_, _ = w.Write([]byte(`{"queries":[[3,"0x05"],[0,"0x00000000000000000000000000000000000000000000000000000000000000ff"]]}`))
		default:
			w.WriteHeader(404)
		}
	})
	ch, err := g.Challenge(context.Background(), escrowKey(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"/generate_queries", "/get_queries_by_escrow"}, calls)
	require.Equal(t, 2, ch.Len())
	assert.Equal(t, uint64(3), ch.Items[0].Index)
	assert.Equal(t, 0, ch.Items[0].Coeff.Cmp(big.NewInt(5)))
	assert.Equal(t, 0, ch.Items[1].Coeff.Cmp(big.NewInt(255)))
}

func TestEscrowState_Decode(t *testing.T) {
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"buyer_pubkey":"b","seller_pubkey":"s","u":"","g":"","v":"",
			"number_of_blocks":12,"query_size":4,"validate_every":60,"last_prove_date":100,"balance":500,
			"queries":[[1,"0x02"]],"queries_generation_time":90,"is_subscription_ended_by_buyer":true,
			"is_subscription_ended_by_seller":false,"subscription_duration":2,"subscription_id":7}`))
	})
	st, err := g.EscrowState(context.Background(), escrowKey(t))
	require.NoError(t, err)
	assert.True(t, st.EndedByBuyer)
	assert.Equal(t, uint64(500), st.Balance)
	assert.Equal(t, time.Minute, st.ValidateInterval())
	assert.Equal(t, 1, st.Challenge().Len())
	_, err = st.Params()
	assert.Error(t, err)
}

func TestKeys_Validation(t *testing.T) {
	_, err := NewGateway(Config{SellerKey: "not-base58-0OIl"})
	require.ErrorIs(t, err, ErrInvalidKey)
	g, err := NewGateway(Config{})
	require.NoError(t, err)
	_, err = g.SubmitProof(context.Background(), "x", nil, nil)
	require.ErrorIs(t, err, ErrInvalidKey)
	_, err = g.EscrowState(context.Background(), "short")
	require.ErrorIs(t, err, ErrInvalidKey)

	kp, pub, err := NewKeypair()
	require.NoError(t, err)
	got, err := PubkeyOf(kp)
	require.NoError(t, err)
	assert.Equal(t, pub, got)
	assert.NoError(t, ValidatePubkey(pub))
}

func TestQuery_JSONShape(t *testing.T) {
	b, err := json.Marshal(Query{Index: 9, Coeff: big.NewInt(1)})
	require.NoError(t, err)
	assert.JSONEq(t, `[9,"0x0000000000000000000000000000000000000000000000000000000000000001"]`, string(b))
	var q Query
	assert.True(t, errors.Is(json.Unmarshal([]byte(`[1]`), &q), ErrBadReply))
	assert.InDelta(t, 1.2, ProveCost(DefaultCostBase, DefaultCostRate, 4), 1e-9)
}
