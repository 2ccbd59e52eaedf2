package api

import (
	"net/http"

	"commerce-service/internal/service"

	"github.com/gin-gonic/gin"
)

type createOrderBody struct {
	UserID        int64                      `json:"userId"`
	Items         []service.OrderItemRequest `json:"items" binding:"required,min=1,dive"`
	PointToUse    int64                      `json:"pointToUse"`
	CouponID      int64                      `json:"couponId"`
	PaymentMethod string                     `json:"paymentMethod" binding:"required"`
	CardType      string                     `json:"cardType"`
	CardNo        string                     `json:"cardNo"`
}

// createOrder handles order creation. The user comes from X-USER-ID, or
// from the body when the header is absent.
func (h *Handler) createOrder(c *gin.Context) {
	var body createOrderBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.writeError(c, bindError(err))
		return
	}

	if c.GetHeader(headerUserID) != "" {
		id, err := userID(c)
		if err != nil {
			h.writeError(c, err)
			return
		}
		body.UserID = id
	}

	method, err := service.ParsePaymentMethod(body.PaymentMethod, body.CardType, body.CardNo)
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp, err := h.svc.Orders.CreateOrder(c.Request.Context(), &service.CreateOrderRequest{
		UserID:         body.UserID,
		Items:          body.Items,
		PointToUse:     body.PointToUse,
		CouponID:       body.CouponID,
		PaymentMethod:  method,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, err := pathID(c, "id")
	if err != nil {
		h.writeError(c, err)
		return
	}

	detail, err := h.svc.Orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, detail)
}
