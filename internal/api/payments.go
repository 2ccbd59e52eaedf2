package api

import (
	"bytes"
	"net/http"
	"strconv"

	"commerce-service/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// flexibleID accepts an id sent as a JSON number or string
type flexibleID int64

func (id *flexibleID) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*id = 0
		return nil
	}
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return err
	}
	*id = flexibleID(v)
	return nil
}

type callbackBody struct {
	TransactionKey string     `json:"transactionKey"`
	OrderID        flexibleID `json:"orderId"`
	Status         string     `json:"status"`
	Reason         string     `json:"reason"`
}

// paymentCallback applies a gateway result. The gateway always gets 200;
// the outcome is reported in the body.
func (h *Handler) paymentCallback(c *gin.Context) {
	var body callbackBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.logger.Warn("Malformed payment callback", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"result": "ERROR", "message": "malformed callback: " + err.Error()})
		return
	}

	err := h.svc.Payments.HandleCallback(c.Request.Context(), service.Callback{
		TransactionKey: body.TransactionKey,
		OrderID:        int64(body.OrderID),
		Status:         body.Status,
		Reason:         body.Reason,
	})
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"result": "ERROR", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": "OK", "message": "callback processed"})
}
