package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	lbconfig "liquiditybook/config"
	"liquiditybook/services/lbpaird/events"
	"liquiditybook/services/lbpaird/history"
	"liquiditybook/services/lbpaird/ledger"
	"liquiditybook/services/lbpaird/manager"
	"liquiditybook/services/lbpaird/middleware"
	"liquiditybook/storage"
)

const (
	pairName   = "NHB-USDC-100"
	middleID   = 1 << 23
	hmacSecret = "server-test-secret"
	oneE18     = "1000000000000000000"
)

var (
	tokenX = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	tokenY = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	alice  = common.HexToAddress("0x0000000000000000000000000000000000000a11")
)

type testEnv struct {
	handler http.Handler
	hub     *events.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := ledger.Open(filepath.Join(t.TempDir(), "shares.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	hist, err := history.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = hist.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := events.NewHub()
	mgr, err := manager.New(manager.Options{
		Snapshots: storage.NewMemDB(),
		Ledger:    db,
		Presets:   &lbconfig.Registry{Presets: lbconfig.DefaultPresets()},
		History:   hist,
		Hub:       hub,
		Logger:    logger,
	}, []manager.PairSpec{{Name: pairName, TokenX: tokenX, TokenY: tokenY, BinStep: 100, ActiveID: middleID}})
	require.NoError(t, err)

	auth, err := middleware.NewAuthenticator(middleware.AuthConfig{HMACSecret: hmacSecret}, logger)
	require.NoError(t, err)
	srv, err := New(Config{RateLimit: middleware.RateLimit{RequestsPerMinute: 6000, Burst: 1000}}, mgr, hub, auth, logger)
	require.NoError(t, err)
	return &testEnv{handler: srv.Handler(), hub: hub}
}

func adminToken(t *testing.T) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "ops",
		"scope": "lb:admin",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(hmacSecret))
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func depositBody() map[string]any {
	return map[string]any{
		"owner":           alice.Hex(),
		"tokenX":          tokenX.Hex(),
		"tokenY":          tokenY.Hex(),
		"binStep":         100,
		"amountX":         "10000000",
		"amountY":         "10000000",
		"activeIdDesired": middleID,
		"idSlippage":      0,
		"deltaIds":        []int64{0},
		"distributionX":   []string{oneE18},
		"distributionY":   []string{oneE18},
		"deadline":        time.Now().Unix() + 600,
	}
}

func TestHealthAndPairListing(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/pairs", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	pairs := decode[[]pairSummary](t, rec)
	require.Len(t, pairs, 1)
	require.Equal(t, pairName, pairs[0].Name)
	require.Equal(t, uint32(middleID), pairs[0].ActiveID)
	require.Equal(t, "1", strings.TrimRight(strings.TrimRight(pairs[0].Price, "0"), "."))
	require.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	rec = env.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLiquidityAndSwapFlow(t *testing.T) {
	env := newTestEnv(t)
	base := "/v1/pairs/" + pairName

	rec := env.do(t, http.MethodPost, base+"/liquidity/add", depositBody(), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	added := decode[addLiquidityResponse](t, rec)
	require.Equal(t, "10000000", added.AmountXAdded)
	require.Len(t, added.Deposits, 1)

	rec = env.do(t, http.MethodGet, base+"/quote/out?amount_in=100000&swap_for_y=true", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	quote := decode[outQuoteResponse](t, rec)

	rec = env.do(t, http.MethodPost, base+"/swap", map[string]any{
		"offerToken": tokenX.Hex(),
		"swapForY":   true,
		"amountIn":   "100000",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	swapped := decode[swapResponse](t, rec)
	require.Equal(t, quote.AmountOut, swapped.AmountOut)
	require.Equal(t, quote.TotalFee, swapped.Fee)

	rec = env.do(t, http.MethodGet, base+"/reserves", nil, "")
	reserves := decode[reservesResponse](t, rec)
	protocolFee, err := strconv.ParseUint(swapped.ProtocolFee, 10, 64)
	require.NoError(t, err)
	require.NotZero(t, protocolFee)
	require.Equal(t, strconv.FormatUint(10_100_000-protocolFee, 10), reserves.ReserveX)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("%s/bins/%d", base, middleID), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	bin := decode[binResponse](t, rec)
	require.NotEqual(t, "0", bin.TotalSupply)

	rec = env.do(t, http.MethodGet, base+"/positions/"+alice.Hex(), nil, "")
	positions := decode[[]positionResponse](t, rec)
	require.Len(t, positions, 1)
	require.Equal(t, bin.TotalSupply, positions[0].Shares)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("%s/price/%d", base, middleID+1), nil, "")
	price := decode[priceResponse](t, rec)
	require.True(t, strings.HasPrefix(price.Price, "1.00999999") || strings.HasPrefix(price.Price, "1.01"), price.Price)

	rec = env.do(t, http.MethodGet, base+"/id?price=1.015", nil, "")
	require.Equal(t, map[string]uint32{"id": middleID + 1}, decode[map[string]uint32](t, rec))

	rec = env.do(t, http.MethodGet, base+"/history/swaps", nil, "")
	swaps := decode[[]history.SwapRecord](t, rec)
	require.Len(t, swaps, 1)

	require.Greater(t, len(positions[0].Shares), 39, "liquidity shares exceed 2^128")
	rec = env.do(t, http.MethodPost, base+"/liquidity/remove", map[string]any{
		"owner":    alice.Hex(),
		"tokenX":   tokenX.Hex(),
		"tokenY":   tokenY.Hex(),
		"binStep":  100,
		"ids":      []uint32{middleID},
		"amounts":  []string{positions[0].Shares},
		"deadline": time.Now().Unix() + 600,
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	removed := decode[removeLiquidityResponse](t, rec)
	require.Len(t, removed.Withdrawals, 1)
	require.Equal(t, positions[0].Shares, removed.Withdrawals[0].Shares)
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	base := "/v1/pairs/" + pairName

	rec := env.do(t, http.MethodGet, "/v1/pairs/NOPE/active", nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, base+"/swap", map[string]any{"swapForY": true, "amountIn": "-5"}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "validation", decode[errorResponse](t, rec).Kind)

	rec = env.do(t, http.MethodPost, base+"/swap", map[string]any{"swapForY": true, "amountIn": "5", "bogus": 1}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, base+"/swap", map[string]any{"swapForY": true, "amountIn": "5"}, "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "insufficient_liquidity", decode[errorResponse](t, rec).Kind)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, base+"/liquidity/add", depositBody(), "").Code)
	rec = env.do(t, http.MethodPost, base+"/swap", map[string]any{"swapForY": true, "amountIn": "1000", "amountOutMin": "1000"}, "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "slippage_exceeded", decode[errorResponse](t, rec).Kind)

	rec = env.do(t, http.MethodPost, base+"/swap", map[string]any{"swapForY": true, "amountIn": "1000", "deadline": 1}, "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "deadline_expired", decode[errorResponse](t, rec).Kind)

	rec = env.do(t, http.MethodGet, base+"/quote/out?amount_in=10", nil, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, base+"/liquidity/remove", map[string]any{
		"owner":    alice.Hex(),
		"tokenX":   tokenX.Hex(),
		"tokenY":   tokenY.Hex(),
		"binStep":  100,
		"ids":      []uint32{middleID},
		"amounts":  []string{"0"},
		"deadline": time.Now().Unix() + 600,
	}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "validation", decode[errorResponse](t, rec).Kind)
}

func TestAdminRoutes(t *testing.T) {
	env := newTestEnv(t)
	base := "/v1/pairs/" + pairName
	token := adminToken(t)

	rec := env.do(t, http.MethodPost, base+"/fees/collect", nil, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, base+"/liquidity/add", depositBody(), "").Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, base+"/swap", map[string]any{"swapForY": true, "amountIn": "1000000"}, "").Code)

	rec = env.do(t, http.MethodPost, base+"/fees/collect", nil, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	collected := decode[protocolFeesResponse](t, rec)
	require.NotEqual(t, "0", collected.AmountX)
	require.Equal(t, "0", collected.AmountY)

	rec = env.do(t, http.MethodGet, base+"/fees/static", nil, "")
	params := decode[map[string]any](t, rec)
	params["protocolShare"] = 2000
	rec = env.do(t, http.MethodPut, base+"/fees/static", params, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = env.do(t, http.MethodGet, base+"/fees/static", nil, "")
	require.EqualValues(t, 2000, decode[map[string]any](t, rec)["protocolShare"])

	params["protocolShare"] = 9000
	rec = env.do(t, http.MethodPut, base+"/fees/static", params, token)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, base+"/oracle/length", map[string]int{"length": 16}, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.EqualValues(t, 16, decode[map[string]any](t, rec)["size"])

	rec = env.do(t, http.MethodPut, base+"/rewards/algorithm", map[string]string{"algorithm": "volume_based"}, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "volume_based", decode[rewardsAlgorithmResponse](t, rec).Pending)

	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodPost, base+"/fees/decay", nil, token).Code)

	rec = env.do(t, http.MethodPost, base+"/rewards/close", nil, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, base+"/rewards", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 0, decode[map[string]any](t, rec)["index"])

	rec = env.do(t, http.MethodGet, base+"/rewards/latest/export?format=jsonl", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	require.Len(t, rec.Header().Get("X-Checksum-SHA256"), 64)
	rec = env.do(t, http.MethodGet, base+"/rewards/0/export?format=xml", nil, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/pairs/" + pairName + "/events"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return env.hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	data, err := json.Marshal(depositBody())
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/v1/pairs/"+pairName+"/liquidity/add", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, msg, err := conn.Read(ctx)
	require.NoError(t, err)
	var ev events.Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	require.Equal(t, events.TypeLiquidityAdded, ev.Type)
	require.Equal(t, pairName, ev.Pair)
}
