package service

import (
	"context"
	"time"

	"commerce-service/internal/models"
	"commerce-service/internal/redisclient"
	"commerce-service/internal/store"
	"commerce-service/internal/util"

	"go.uber.org/zap"
)

// ProductCache holds product rows for the detail read. Implemented by
// redisclient.Client.
type ProductCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error
}

// ProductDetail is a product with its stock
type ProductDetail struct {
	models.Product
	Available int `json:"available"`
}

// CatalogService serves products and records views and likes
type CatalogService struct {
	store     *store.Store
	publisher Publisher
	cache     ProductCache
	cacheTTL  time.Duration
	logger    *zap.Logger
}

// NewCatalogService creates a new catalog service. cache may be nil.
func NewCatalogService(s *store.Store, publisher Publisher, cache ProductCache, cacheTTL time.Duration) *CatalogService {
	return &CatalogService{
		store:     s,
		publisher: publisher,
		cache:     cache,
		cacheTTL:  cacheTTL,
		logger:    util.GetLogger(),
	}
}

// ListProducts returns the whole catalog
func (s *CatalogService) ListProducts(ctx context.Context) ([]models.Product, error) {
	return s.store.GetProducts(ctx)
}

// GetProduct returns a product and publishes ProductViewed. The product
// row may come from the cache; stock is always read from the store.
func (s *CatalogService) GetProduct(ctx context.Context, productID int64) (*ProductDetail, error) {
	product, err := s.product(ctx, productID)
	if err != nil {
		return nil, err
	}

	detail := &ProductDetail{Product: *product}
	if inv, err := s.store.GetInventory(ctx, productID); err == nil {
		detail.Available = inv.Available
	}

	s.publisher.Publish(ctx, models.NewProductViewedEvent(productID))
	return detail, nil
}

// Like records a like. changed is false when the user already liked it.
func (s *CatalogService) Like(ctx context.Context, userID, productID int64) (changed bool, err error) {
	if _, err := s.product(ctx, productID); err != nil {
		return false, err
	}

	changed, err = s.store.InsertLike(ctx, userID, productID)
	if err != nil || !changed {
		return false, err
	}

	s.publisher.Publish(ctx, models.NewLikeChangedEvent(productID, userID, true))
	s.logger.Debug("Product liked", zap.Int64("product_id", productID), zap.Int64("user_id", userID))
	return true, nil
}

// Unlike removes a like. changed is false when there was none.
func (s *CatalogService) Unlike(ctx context.Context, userID, productID int64) (changed bool, err error) {
	changed, err = s.store.DeleteLike(ctx, userID, productID)
	if err != nil || !changed {
		return false, err
	}

	s.publisher.Publish(ctx, models.NewLikeChangedEvent(productID, userID, false))
	s.logger.Debug("Product unliked", zap.Int64("product_id", productID), zap.Int64("user_id", userID))
	return true, nil
}

// product reads through the cache. Cache failures fall back to the store.
func (s *CatalogService) product(ctx context.Context, productID int64) (*models.Product, error) {
	if s.cache == nil {
		return s.store.GetProductByID(ctx, productID)
	}

	key := redisclient.ProductDetailKey(productID)
	var cached models.Product
	ok, err := s.cache.GetJSON(ctx, key, &cached)
	switch {
	case err != nil:
		s.cacheFailed("get", key, err)
	case ok:
		util.ProductCacheTotal.WithLabelValues("hit").Inc()
		return &cached, nil
	default:
		util.ProductCacheTotal.WithLabelValues("miss").Inc()
	}

	product, err := s.store.GetProductByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetJSON(ctx, key, product, s.cacheTTL); err != nil {
		s.cacheFailed("set", key, err)
	}
	return product, nil
}

func (s *CatalogService) cacheFailed(op, key string, err error) {
	util.ProductCacheTotal.WithLabelValues("error").Inc()
	s.logger.Warn("Product cache unavailable",
		zap.String("op", op),
		zap.String("key", key),
		zap.Error(err))
}
