package httpadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carrierwave/internal/adapters/memory"
	"carrierwave/internal/adapters/sqlite"
	"carrierwave/internal/domain"
	"carrierwave/internal/services/bounties"
	"carrierwave/internal/workers/mirrorrelay"
)

const (
	funderHex    = "0x1000000000000000000000000000000000000001"
	scientistHex = "0x2000000000000000000000000000000000000002"
	adminHex     = "0x5000000000000000000000000000000000000005"
	univHex      = "0x6000000000000000000000000000000000000006"
	vaultHex     = "0x4000000000000000000000000000000000000004"
)

type testServer struct {
	t     *testing.T
	h     http.Handler
	store *memory.Store
	relay *mirrorrelay.Relay
	clock *clockwork.FakeClock
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	store := memory.New()
	mirror, err := sqlite.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mirror.Close() })

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc, err := bounties.New(store, bounties.Config{
		PlatformFeeBps: 250,
		Treasury:       common.HexToAddress("0x852eD1fFbc473e7353D793F9FffAFbC24FAf907D"),
		Custody:        common.HexToAddress("0xEe7c58E02387548f7628e467d862483Ebb285e7f"),
		EscrowVault:    common.HexToAddress(vaultHex),
		EscrowAdmin:    common.HexToAddress(adminHex),
	}, bounties.WithClock(clock))
	require.NoError(t, err)

	opts.PlatformFeeBps = 250
	return &testServer{
		t:     t,
		h:     New(svc, mirror, store, opts).Routes(),
		store: store,
		relay: mirrorrelay.New(store, mirror, 1, time.Millisecond, nil),
		clock: clock,
	}
}

func (ts *testServer) do(method, path, who, body string) *httptest.ResponseRecorder {
	ts.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if who != "" {
		req.Header.Set(CallerHeader, who)
	}
	rec := httptest.NewRecorder()
	ts.h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, Options{})
	rec := ts.do(http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t, Options{DevRoutes: true})

	rec := ts.do(http.MethodPost, "/accounts/"+funderHex+"/deposit", "", `{"amount":"5000"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodPost, "/scientists", scientistHex, `{"institutionName":"Test University","institutionSplitBps":2000}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	deadline := ts.clock.Now().Add(24 * time.Hour).Unix()
	rec = ts.do(http.MethodPost, "/bounties", funderHex,
		`{"diseaseTag":"ALS","criteria":"Identify a novel biomarker","deadline":`+itoa(deadline)+`,"amount":1000}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[domain.Receipt](t, rec)
	require.NotNil(t, created.Bounty)
	assert.Equal(t, uint64(0), created.Bounty.ID)
	assert.NotEmpty(t, created.TxID)

	rec = ts.do(http.MethodPost, "/bounties/0/claims", scientistHex, `{"roId":"ro-1","justification":"CSF NfL"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodPost, "/bounties/0/claims/0/approve", scientistHex, `{"shareBps":10000}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodPost, "/bounties/0/claims/0/approve", funderHex, `{"shareBps":10000}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodPost, "/bounties/0/finalize", funderHex, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	final := decodeBody[domain.Receipt](t, rec)
	assert.Equal(t, domain.BountyFinalized, final.Bounty.Status)
	require.Len(t, final.Escrows, 1)

	rec = ts.do(http.MethodGet, "/accounts/"+scientistHex, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(780), decodeBody[accountResponse](t, rec).Balance)

	rec = ts.do(http.MethodGet, "/bounties/0/escrows", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"amount":195`)

	rec = ts.do(http.MethodPost, "/escrows/0/claim", adminHex, `{"payee":"`+univHex+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = ts.do(http.MethodPost, "/escrows/0/claim", adminHex, `{"payee":"`+univHex+`"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "EscrowClaimed", decodeBody[errorBody](t, rec).Code)

	rec = ts.do(http.MethodPost, "/bounties/0/claims", scientistHex, `{"roId":"ro-2","justification":"late"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	_, err := ts.relay.Drain(context.Background())
	require.NoError(t, err)
	rec = ts.do(http.MethodGet, "/bounties?tag=als", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodeBody[domain.BountyPage](t, rec)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, domain.BountyFinalized, page.Bounties[0].Status)
	assert.Equal(t, created.TxID, page.Bounties[0].TxID)

	rec = ts.do(http.MethodGet, "/bounties/0/claims", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"approved"`)

	rec = ts.do(http.MethodGet, "/scientists/"+scientistHex+"/claims", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"roId":"ro-1"`)
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t, Options{})
	deadline := ts.clock.Now().Add(time.Hour).Unix()

	cases := []struct {
		name   string
		method string
		path   string
		who    string
		body   string
		status int
		code   string
	}{
		{"missing caller", http.MethodPost, "/bounties", "", `{}`, http.StatusForbidden, "Unauthorized"},
		{"malformed caller", http.MethodPost, "/bounties", "0xnope", `{}`, http.StatusBadRequest, "InvalidAddress"},
		{"zero amount", http.MethodPost, "/bounties", funderHex, `{"diseaseTag":"x","criteria":"y","deadline":` + itoa(deadline) + `,"amount":0}`, http.StatusBadRequest, "ZeroAmount"},
		{"unfunded", http.MethodPost, "/bounties", funderHex, `{"diseaseTag":"x","criteria":"y","deadline":` + itoa(deadline) + `,"amount":1}`, http.StatusUnprocessableEntity, "InsufficientFunds"},
		{"unknown field", http.MethodPost, "/bounties", funderHex, `{"bogus":1}`, http.StatusBadRequest, "BadRequest"},
		{"bad id", http.MethodGet, "/bounties/abc", "", "", http.StatusBadRequest, "BadRequest"},
		{"missing bounty", http.MethodGet, "/bounties/7", "", "", http.StatusNotFound, "BountyNotFound"},
		{"missing escrow", http.MethodGet, "/escrows/7", "", "", http.StatusNotFound, "EscrowNotFound"},
		{"negative claim index", http.MethodGet, "/bounties/0/claims/-1", "", "", http.StatusBadRequest, "BadRequest"},
		{"negative page", http.MethodGet, "/bounties?page=-1", "", "", http.StatusBadRequest, "BadRequest"},
		{"bad status filter", http.MethodGet, "/bounties?status=pending", "", "", http.StatusBadRequest, "BadRequest"},
		{"deposit disabled", http.MethodPost, "/accounts/" + funderHex + "/deposit", "", `{"amount":1}`, http.StatusNotFound, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(tc.method, tc.path, tc.who, tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			if tc.code != "" {
				assert.Equal(t, tc.code, decodeBody[errorBody](t, rec).Code)
			}
		})
	}
}

func TestSettlementPreview(t *testing.T) {
	ts := newTestServer(t, Options{})

	rec := ts.do(http.MethodGet, "/settlement/preview?amount=1000&splitBps=2000", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeBody[previewResponse](t, rec)
	assert.Equal(t, uint64(25), got.PlatformCut)
	assert.Equal(t, uint64(780), got.ScientistCut)
	assert.Equal(t, uint64(195), got.InstitutionCut)

	rec = ts.do(http.MethodGet, "/settlement/preview?amount=1000&shareBps=10001", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/settlement/preview?amount=ten", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/settlement/preview?amount=1000&shareBps=5000", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, uint64(487), decodeBody[previewResponse](t, rec).ScientistCut)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, Options{RateLimitRPS: 0.001, RateLimitBurst: 2})

	for i := 0; i < 2; i++ {
		rec := ts.do(http.MethodGet, "/bounties/0", funderHex, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}
	rec := ts.do(http.MethodGet, "/bounties/0", funderHex, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Another wallet has its own bucket; health checks are never limited.
	rec = ts.do(http.MethodGet, "/bounties/0", scientistHex, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = ts.do(http.MethodGet, "/healthz", funderHex, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAmountUnmarshal(t *testing.T) {
	var a Amount
	require.NoError(t, json.Unmarshal([]byte(`"18446744073709551615"`), &a))
	assert.Equal(t, Amount(18446744073709551615), a)
	require.NoError(t, json.Unmarshal([]byte(`42`), &a))
	assert.Equal(t, Amount(42), a)
	assert.Error(t, json.Unmarshal([]byte(`-1`), &a))
	assert.Error(t, json.Unmarshal([]byte(`1.5`), &a))
}

func itoa(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
