package api

import (
	"net/http"
	"time"

	"commerce-service/internal/apperr"

	"github.com/gin-gonic/gin"
)

type chargeBody struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
	// ChargeID makes a retried charge idempotent; generated when absent
	ChargeID int64 `json:"chargeId"`
}

// getPoints returns the balance and recent history of the caller
func (h *Handler) getPoints(c *gin.Context) {
	uid, err := userID(c)
	if err != nil {
		h.writeError(c, err)
		return
	}

	var balance int64
	point, err := h.svc.Points.Balance(c.Request.Context(), uid)
	switch {
	case err == nil:
		balance = point.Balance
	case !apperr.Is(err, apperr.KindNotFound):
		h.writeError(c, err)
		return
	}

	histories, err := h.svc.Points.History(c.Request.Context(), uid)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"userId":    uid,
		"balance":   balance,
		"histories": histories,
	})
}

func (h *Handler) chargePoints(c *gin.Context) {
	uid, err := userID(c)
	if err != nil {
		h.writeError(c, err)
		return
	}

	var body chargeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.writeError(c, bindError(err))
		return
	}
	if body.ChargeID == 0 {
		body.ChargeID = time.Now().UnixNano()
	}

	balance, err := h.svc.Points.Charge(c.Request.Context(), uid, body.Amount, body.ChargeID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"userId":  uid,
		"balance": balance,
	})
}
