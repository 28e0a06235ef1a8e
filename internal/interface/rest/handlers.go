package rest

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/fairdraw/raffled/internal/core/application"
	"github.com/fairdraw/raffled/internal/core/domain"
	"github.com/gin-gonic/gin"
)

type handler struct {
	svc application.Service
}

func newHandler(svc application.Service) *handler {
	return &handler{svc}
}

type enterRequest struct {
	Address string `json:"address" binding:"required"`
	Amount  uint64 `json:"amount" binding:"required"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *handler) enter(c *gin.Context) {
	var req enterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{err.Error()})
		return
	}

	if err := h.svc.Enter(c.Request.Context(), req.Address, req.Amount); err != nil {
		c.JSON(errStatus(err), errorResponse{err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"address": req.Address, "amount": req.Amount})
}

func (h *handler) getRaffle(c *gin.Context) {
	info, err := h.svc.GetInfo(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{err.Error()})
		return
	}

	resp := gin.H{
		"roundId":        info.RoundId,
		"state":          info.State,
		"entranceFee":    info.EntranceFee,
		"numEntries":     info.NumEntries,
		"potAmount":      info.PotAmount,
		"roundStartedAt": info.RoundStartedAt,
	}
	if len(info.PendingRequestId) > 0 {
		resp["pendingRequestId"] = info.PendingRequestId
	}
	if info.RecentWinner != nil {
		resp["recentWinner"] = gin.H{
			"address":    info.RecentWinner.Address,
			"index":      info.RecentWinner.Index,
			"randomWord": strconv.FormatUint(info.RecentWinner.RandomWord, 10),
			"payout":     info.RecentWinner.Payout,
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) getEntry(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{"invalid entry index"})
		return
	}

	entry, err := h.svc.GetEntry(c.Request.Context(), index)
	if err != nil {
		c.JSON(http.StatusNotFound, errorResponse{err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"address": entry.Address, "amount": entry.Amount})
}

func (h *handler) checkUpkeep(c *gin.Context) {
	needed := h.svc.CheckUpkeep(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"upkeepNeeded": needed})
}

func (h *handler) performUpkeep(c *gin.Context) {
	requestId, err := h.svc.PerformUpkeep(c.Request.Context())
	if err != nil {
		c.JSON(errStatus(err), errorResponse{err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"requestId": requestId})
}

func (h *handler) getRound(c *gin.Context) {
	round, err := h.svc.GetRoundWithId(c.Request.Context(), c.Param("id"))
	if err != nil {
		status := http.StatusInternalServerError
		if strings.Contains(err.Error(), "not found") {
			status = http.StatusNotFound
		}
		c.JSON(status, errorResponse{err.Error()})
		return
	}

	resp := gin.H{
		"id":          round.Id,
		"state":       round.Stage.Code.String(),
		"ended":       round.Stage.Ended,
		"failed":      round.Stage.Failed,
		"entranceFee": round.EntranceFee,
		"numEntries":  len(round.Entries),
		"potAmount":   round.PotAmount(),
		"startedAt":   round.StartingTimestamp,
		"endedAt":     round.EndingTimestamp,
	}
	if round.Winner != nil {
		resp["winner"] = gin.H{
			"address":    round.Winner.Address,
			"index":      round.Winner.Index,
			"randomWord": strconv.FormatUint(round.Winner.RandomWord, 10),
			"payout":     round.Winner.Payout,
		}
	}
	c.JSON(http.StatusOK, resp)
}

func errStatus(err error) int {
	var notOpen domain.ErrRoundNotOpen
	var feeTooLow domain.ErrFeeTooLow
	var notNeeded domain.ErrUpkeepNotNeeded
	switch {
	case errors.As(err, &feeTooLow):
		return http.StatusBadRequest
	case errors.As(err, &notOpen):
		return http.StatusConflict
	case errors.As(err, &notNeeded):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
