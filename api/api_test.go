package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/liveauction/core"
	"github.com/cloudx-io/liveauction/engine"
	"github.com/cloudx-io/liveauction/notify"
	"github.com/cloudx-io/liveauction/storage/memory"
)

var t0 = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Stale() bool { return false }

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type testServer struct {
	t      *testing.T
	router *gin.Engine
	clock  *testClock
	hub    *notify.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.New()
	clock := &testClock{now: t0.Add(-time.Hour)}
	hub := notify.NewHub()
	e := engine.New(store, clock, engine.WithDispatcher(notify.NewDispatcher(store, hub)))
	return &testServer{
		t:      t,
		router: NewRouter(NewHandler(e, hub), 8),
		clock:  clock,
		hub:    hub,
	}
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		assert.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func (s *testServer) createAuction(fee string) core.Auction {
	s.t.Helper()
	w := s.do(http.MethodPost, "/auctions", map[string]any{
		"name":        "Gold coin",
		"starts_at":   t0.Format(time.RFC3339),
		"prize_value": "5000",
		"entry_fee":   fee,
	})
	assert.Equal(s.t, http.StatusCreated, w.Code)
	return decode[core.Auction](s.t, w)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func TestAuctionLifecycle(t *testing.T) {
	s := newTestServer(t)
	a := s.createAuction("0")

	w := s.do(http.MethodGet, "/auctions/"+a.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	view := decode[engine.StatusView](t, w)
	check.Equal(t, core.StatusEntry, view.Status)
	check.False(t, view.Stale)

	s.clock.Set(t0.Add(-time.Minute))
	players := []string{"alice", "bob", "carol", "dave"}
	for _, p := range players {
		w = s.do(http.MethodPost, "/auctions/"+a.ID+"/entries", map[string]any{"participant_id": p})
		assert.Equal(t, http.StatusCreated, w.Code)
	}

	for round := 1; round <= core.TotalRounds; round++ {
		s.clock.Set(t0.Add(time.Duration(round-1)*core.RoundLength + time.Minute))
		for i, p := range players {
			w = s.do(http.MethodPost, "/auctions/"+a.ID+"/bids", map[string]any{
				"participant_id": p,
				"round":          round,
				"amount":         fmt.Sprintf("%d", (i+1)*100+round*10),
			})
			assert.Equal(t, http.StatusCreated, w.Code)
		}
	}

	w = s.do(http.MethodGet, "/auctions/"+a.ID+"/leaderboard?round=4", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	check.True(t, strings.Contains(w.Body.String(), `"participant_id":"dave"`))

	w = s.do(http.MethodGet, "/auctions/"+a.ID+"/winners", nil)
	check.Equal(t, http.StatusConflict, w.Code)
	check.Equal(t, "NotCompleted", decode[errorBody](t, w).Error)

	completion := t0.Add(core.TotalRounds * core.RoundLength)
	s.clock.Set(completion.Add(time.Minute))
	w = s.do(http.MethodGet, "/auctions/"+a.ID+"/winners", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	record := decode[core.WinnerRecord](t, w)
	assert.Equal(t, 3, len(record.Entries))
	check.Equal(t, "dave", record.Entries[0].ParticipantID)

	w = s.do(http.MethodGet, "/auctions/"+a.ID+"/claims/carol", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	check.Equal(t, core.ClaimWaiting, decode[core.RankClaim](t, w).Status)

	w = s.do(http.MethodPost, "/auctions/"+a.ID+"/claims/carol/pay", nil)
	check.Equal(t, http.StatusConflict, w.Code)
	check.Equal(t, "NotClaimHolder", decode[errorBody](t, w).Error)

	w = s.do(http.MethodPost, "/auctions/"+a.ID+"/claims/dave/pay", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	var payment struct {
		Reference string `json:"reference"`
		Amount    string `json:"amount"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &payment))
	check.Equal(t, "440", payment.Amount)

	w = s.do(http.MethodPost, "/payments/callback", map[string]any{"reference": payment.Reference, "success": true})
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/auctions/"+a.ID+"/claims", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	ticket := decode[core.ClaimTicket](t, w)
	check.Equal(t, core.OutcomeClaimed, ticket.Outcome)
	check.Equal(t, core.ClaimClaimed, ticket.Ranks[0].Status)
}

func TestBidRejections(t *testing.T) {
	s := newTestServer(t)
	a := s.createAuction("0")
	s.do(http.MethodPost, "/auctions/"+a.ID+"/entries", map[string]any{"participant_id": "p1"})
	s.clock.Set(t0.Add(time.Minute))

	tests := []struct {
		name   string
		body   map[string]any
		status int
		reason string
	}{
		{"no entry", map[string]any{"participant_id": "stranger", "round": 1, "amount": "10"}, http.StatusUnprocessableEntity, "NoEntry"},
		{"wrong round", map[string]any{"participant_id": "p1", "round": 2, "amount": "10"}, http.StatusConflict, "WrongRound"},
		{"invalid amount", map[string]any{"participant_id": "p1", "round": 1, "amount": "-5"}, http.StatusUnprocessableEntity, "InvalidAmount"},
		{"accepted", map[string]any{"participant_id": "p1", "round": 1, "amount": "10"}, http.StatusCreated, ""},
		{"duplicate", map[string]any{"participant_id": "p1", "round": 1, "amount": "20"}, http.StatusConflict, "DuplicateBid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(http.MethodPost, "/auctions/"+a.ID+"/bids", tt.body)
			check.Equal(t, tt.status, w.Code)
			if tt.reason != "" {
				check.Equal(t, tt.reason, decode[errorBody](t, w).Error)
			}
		})
	}

	w := s.do(http.MethodPost, "/auctions/"+a.ID+"/bids", "not an object")
	check.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/auctions/missing", "/auctions/missing/winners", "/auctions/missing/claims", "/auctions/missing/leaderboard"} {
		w := s.do(http.MethodGet, path, nil)
		check.Equal(t, http.StatusNotFound, w.Code)
	}
	w := s.do(http.MethodPost, "/payments/callback", map[string]any{"reference": "nope", "success": true})
	check.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelAuction(t *testing.T) {
	s := newTestServer(t)
	a := s.createAuction("0")

	w := s.do(http.MethodPost, "/auctions/"+a.ID+"/cancel", map[string]any{})
	check.Equal(t, http.StatusBadRequest, w.Code)

	s.clock.Set(t0.Add(13 * time.Minute))
	w = s.do(http.MethodPost, "/auctions/"+a.ID+"/cancel", map[string]any{"admin_id": "admin"})
	check.Equal(t, http.StatusConflict, w.Code)
	check.Equal(t, "CancellationWindowClosed", decode[errorBody](t, w).Error)

	other := s.createAuction("0")
	s.clock.Set(t0.Add(5 * time.Minute))
	w = s.do(http.MethodPost, "/auctions/"+other.ID+"/cancel", map[string]any{"admin_id": "admin"})
	assert.Equal(t, http.StatusOK, w.Code)
	check.True(t, decode[core.Auction](t, w).CancelledAt != nil)
}

func TestConcurrencyLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	release := make(chan struct{})
	entered := make(chan struct{})

	router := gin.New()
	router.Use(ConcurrencyLimit(1))
	router.GET("/slow", func(c *gin.Context) {
		close(entered)
		<-release
		c.Status(http.StatusOK)
	})

	done := make(chan int)
	go func() {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/slow", nil))
		done <- w.Code
	}()
	<-entered

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/slow", nil))
	check.Equal(t, http.StatusServiceUnavailable, w.Code)

	close(release)
	check.Equal(t, http.StatusOK, <-done)
}

func TestStream(t *testing.T) {
	s := newTestServer(t)
	a := s.createAuction("0")

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/auctions/" + a.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.NoError(t, err)
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.hub.Subscribers(a.ID) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 1, s.hub.Subscribers(a.ID))

	assert.NoError(t, s.hub.Notify(context.Background(), notify.Event{Kind: notify.KindAuctionCancelled, AuctionID: a.ID, At: t0}))

	assert.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev notify.Event
	assert.NoError(t, conn.ReadJSON(&ev))
	check.Equal(t, notify.KindAuctionCancelled, ev.Kind)

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/auctions/missing/ws", nil)
	check.Error(t, err)
	if resp != nil {
		check.Equal(t, http.StatusNotFound, resp.StatusCode)
	}
}
