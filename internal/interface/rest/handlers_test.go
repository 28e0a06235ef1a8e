package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fairdraw/raffled/internal/core/application"
	"github.com/fairdraw/raffled/internal/core/domain"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestHandlers(t *testing.T) {
	t.Run("enter", func(t *testing.T) {
		t.Run("valid", func(t *testing.T) {
			router := newTestRouter(&stubService{})
			resp := doRequest(
				router, "POST", "/v1/raffle/entries",
				`{"address": "addr-alice", "amount": 10}`,
			)
			require.Equal(t, http.StatusOK, resp.Code)
		})

		t.Run("malformed_body", func(t *testing.T) {
			router := newTestRouter(&stubService{})
			resp := doRequest(router, "POST", "/v1/raffle/entries", `{"address": ""}`)
			require.Equal(t, http.StatusBadRequest, resp.Code)
		})

		t.Run("fee_too_low", func(t *testing.T) {
			router := newTestRouter(&stubService{
				enterErr: domain.ErrFeeTooLow{Required: 10, Got: 5},
			})
			resp := doRequest(
				router, "POST", "/v1/raffle/entries",
				`{"address": "addr-alice", "amount": 5}`,
			)
			require.Equal(t, http.StatusBadRequest, resp.Code)
		})

		t.Run("round_locked", func(t *testing.T) {
			router := newTestRouter(&stubService{
				enterErr: domain.ErrRoundNotOpen{State: domain.CalculatingState},
			})
			resp := doRequest(
				router, "POST", "/v1/raffle/entries",
				`{"address": "addr-alice", "amount": 10}`,
			)
			require.Equal(t, http.StatusConflict, resp.Code)
		})
	})

	t.Run("get_raffle", func(t *testing.T) {
		router := newTestRouter(&stubService{
			info: &application.RaffleInfo{
				RoundId:     "round-1",
				State:       "OPEN",
				EntranceFee: 10,
				NumEntries:  3,
				PotAmount:   30,
				RecentWinner: &domain.Winner{
					Address:    "addr-bob",
					Index:      1,
					RandomWord: 18446744073709551615,
					Payout:     30,
				},
			},
		})
		resp := doRequest(router, "GET", "/v1/raffle", "")
		require.Equal(t, http.StatusOK, resp.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		require.Equal(t, "round-1", body["roundId"])
		require.Equal(t, "OPEN", body["state"])
		require.Equal(t, float64(30), body["potAmount"])
		require.NotContains(t, body, "pendingRequestId")

		// words near 2^64 must not lose precision in JSON
		winner := body["recentWinner"].(map[string]interface{})
		require.Equal(t, "18446744073709551615", winner["randomWord"])
	})

	t.Run("get_entry", func(t *testing.T) {
		svc := &stubService{entry: &domain.Entry{Address: "addr-alice", Amount: 10}}
		router := newTestRouter(svc)

		resp := doRequest(router, "GET", "/v1/raffle/entries/0", "")
		require.Equal(t, http.StatusOK, resp.Code)

		resp = doRequest(router, "GET", "/v1/raffle/entries/abc", "")
		require.Equal(t, http.StatusBadRequest, resp.Code)

		svc.entryErr = fmt.Errorf("no entry at index 5")
		resp = doRequest(router, "GET", "/v1/raffle/entries/5", "")
		require.Equal(t, http.StatusNotFound, resp.Code)
	})

	t.Run("check_upkeep", func(t *testing.T) {
		router := newTestRouter(&stubService{upkeepNeeded: true})
		resp := doRequest(router, "GET", "/v1/raffle/upkeep", "")
		require.Equal(t, http.StatusOK, resp.Code)

		var body map[string]bool
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		require.True(t, body["upkeepNeeded"])
	})

	t.Run("perform_upkeep", func(t *testing.T) {
		t.Run("valid", func(t *testing.T) {
			router := newTestRouter(&stubService{requestId: "req-0001"})
			resp := doRequest(router, "POST", "/v1/raffle/upkeep", "")
			require.Equal(t, http.StatusOK, resp.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
			require.Equal(t, "req-0001", body["requestId"])
		})

		t.Run("not_needed", func(t *testing.T) {
			router := newTestRouter(&stubService{
				upkeepErr: domain.ErrUpkeepNotNeeded{NumEntries: 0, State: domain.OpenState},
			})
			resp := doRequest(router, "POST", "/v1/raffle/upkeep", "")
			require.Equal(t, http.StatusUnprocessableEntity, resp.Code)
		})
	})

	t.Run("get_round", func(t *testing.T) {
		round := domain.NewRoundFromEvents([]domain.RoundEvent{
			domain.RoundStarted{Id: "round-1", EntranceFee: 10, Timestamp: 1701190270},
		})
		svc := &stubService{round: round}
		router := newTestRouter(svc)

		resp := doRequest(router, "GET", "/v1/rounds/round-1", "")
		require.Equal(t, http.StatusOK, resp.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		require.Equal(t, "round-1", body["id"])
		require.Equal(t, "OPEN", body["state"])

		svc.roundErr = fmt.Errorf("round with id round-2 not found")
		resp = doRequest(router, "GET", "/v1/rounds/round-2", "")
		require.Equal(t, http.StatusNotFound, resp.Code)
	})
}

func newTestRouter(svc application.Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := newHandler(svc)
	api := router.Group("/v1")
	api.GET("/raffle", h.getRaffle)
	api.POST("/raffle/entries", h.enter)
	api.GET("/raffle/entries/:index", h.getEntry)
	api.GET("/raffle/upkeep", h.checkUpkeep)
	api.POST("/raffle/upkeep", h.performUpkeep)
	api.GET("/rounds/:id", h.getRound)
	return router
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

type stubService struct {
	enterErr     error
	info         *application.RaffleInfo
	entry        *domain.Entry
	entryErr     error
	upkeepNeeded bool
	requestId    string
	upkeepErr    error
	round        *domain.Round
	roundErr     error
}

func (s *stubService) Start() error { return nil }
func (s *stubService) Stop()        {}

func (s *stubService) Enter(_ context.Context, address string, amount uint64) error {
	return s.enterErr
}

func (s *stubService) CheckUpkeep(_ context.Context) bool {
	return s.upkeepNeeded
}

func (s *stubService) PerformUpkeep(_ context.Context) (string, error) {
	return s.requestId, s.upkeepErr
}

func (s *stubService) GetInfo(_ context.Context) (*application.RaffleInfo, error) {
	if s.info == nil {
		return &application.RaffleInfo{State: "OPEN"}, nil
	}
	return s.info, nil
}

func (s *stubService) GetEntry(_ context.Context, index int) (*domain.Entry, error) {
	if s.entryErr != nil {
		return nil, s.entryErr
	}
	return s.entry, nil
}

func (s *stubService) GetRoundWithId(_ context.Context, id string) (*domain.Round, error) {
	if s.roundErr != nil {
		return nil, s.roundErr
	}
	return s.round, nil
}

func (s *stubService) Notifications() <-chan application.Notification {
	return nil
}
