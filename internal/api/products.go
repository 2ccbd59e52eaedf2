package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type adjustStockBody struct {
	Delta int `json:"delta" binding:"required"`
}

func (h *Handler) listProducts(c *gin.Context) {
	products, err := h.svc.Catalog.ListProducts(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

// getProduct returns a product and counts the view
func (h *Handler) getProduct(c *gin.Context) {
	productID, err := pathID(c, "id")
	if err != nil {
		h.writeError(c, err)
		return
	}

	product, err := h.svc.Catalog.GetProduct(c.Request.Context(), productID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) likeProduct(c *gin.Context) {
	h.toggleLike(c, true)
}

func (h *Handler) unlikeProduct(c *gin.Context) {
	h.toggleLike(c, false)
}

func (h *Handler) toggleLike(c *gin.Context, like bool) {
	uid, err := userID(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	productID, err := pathID(c, "id")
	if err != nil {
		h.writeError(c, err)
		return
	}

	toggle := h.svc.Catalog.Unlike
	if like {
		toggle = h.svc.Catalog.Like
	}
	changed, err := toggle(c.Request.Context(), uid, productID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"productId": productID,
		"liked":     like,
		"changed":   changed,
	})
}

// adjustStock applies an admin stock correction
func (h *Handler) adjustStock(c *gin.Context) {
	productID, err := pathID(c, "id")
	if err != nil {
		h.writeError(c, err)
		return
	}

	var body adjustStockBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.writeError(c, bindError(err))
		return
	}

	current, err := h.svc.Stock.Adjust(c.Request.Context(), productID, body.Delta)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"productId":    productID,
		"currentStock": current,
	})
}
