package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"commerce-service/internal/apperr"
	"commerce-service/internal/models"
	"commerce-service/internal/service"
	"commerce-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const headerUserID = "X-USER-ID"

// OrderAPI places and reads orders
type OrderAPI interface {
	CreateOrder(ctx context.Context, req *service.CreateOrderRequest) (*service.CreateOrderResponse, error)
	GetOrder(ctx context.Context, orderID int64) (*service.OrderDetail, error)
}

// PaymentAPI applies gateway callbacks
type PaymentAPI interface {
	HandleCallback(ctx context.Context, cb service.Callback) error
}

// RankingAPI reads the daily leaderboard
type RankingAPI interface {
	PageRankings(ctx context.Context, date time.Time, page, size int) service.RankingPage
	RankOf(ctx context.Context, productID int64, date time.Time) (int64, bool)
	Today() time.Time
	Location() *time.Location
}

// CatalogAPI serves products, views and likes
type CatalogAPI interface {
	ListProducts(ctx context.Context) ([]models.Product, error)
	GetProduct(ctx context.Context, productID int64) (*service.ProductDetail, error)
	Like(ctx context.Context, userID, productID int64) (bool, error)
	Unlike(ctx context.Context, userID, productID int64) (bool, error)
}

// StockAPI adjusts stock outside of orders
type StockAPI interface {
	Adjust(ctx context.Context, productID int64, delta int) (int, error)
}

// PointAPI reads and charges point balances
type PointAPI interface {
	Balance(ctx context.Context, userID int64) (*models.Point, error)
	History(ctx context.Context, userID int64) ([]models.PointHistory, error)
	Charge(ctx context.Context, userID, amount, chargeID int64) (int64, error)
}

// Services groups the handlers' dependencies
type Services struct {
	Orders   OrderAPI
	Payments PaymentAPI
	Rankings RankingAPI
	Catalog  CatalogAPI
	Stock    StockAPI
	Points   PointAPI
}

// ReadinessCheck reports whether a dependency is reachable
type ReadinessCheck func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	svc    Services
	checks map[string]ReadinessCheck
	logger *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(svc Services, checks map[string]ReadinessCheck) *Handler {
	return &Handler{
		svc:    svc,
		checks: checks,
		logger: util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:id", h.getOrder)

		v1.POST("/payments/callback", h.paymentCallback)

		v1.GET("/rankings", h.getRankings)
		v1.GET("/rankings/products/:id", h.getProductRank)

		v1.GET("/products", h.listProducts)
		v1.GET("/products/:id", h.getProduct)
		v1.POST("/products/:id/likes", h.likeProduct)
		v1.DELETE("/products/:id/likes", h.unlikeProduct)
		v1.PUT("/products/:id/stock", h.adjustStock)

		v1.GET("/points", h.getPoints)
		v1.POST("/points/charge", h.chargePoints)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when every dependency answers
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// writeError maps an application error to its HTTP status
func (h *Handler) writeError(c *gin.Context, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.Wrap(err, apperr.KindInternal, "internal error")
	}

	status := statusOf(appErr.Kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": appErr})
}

func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict, apperr.KindInsufficientResource:
		return http.StatusConflict
	case apperr.KindTransientInfra:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func bindError(err error) error {
	return apperr.Validation("invalid request body: %v", err)
}

func pathID(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid %s: %q", name, c.Param(name))
	}
	return id, nil
}

func userID(c *gin.Context) (int64, error) {
	raw := c.GetHeader(headerUserID)
	if raw == "" {
		return 0, apperr.Validation("%s header is required", headerUserID)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid %s header: %q", headerUserID, raw)
	}
	return id, nil
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
		util.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}
