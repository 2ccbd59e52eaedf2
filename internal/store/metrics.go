package store

import (
	"context"
	"time"

	"commerce-service/internal/models"
)

func dateKey(date time.Time) string {
	return date.Format("2006-01-02")
}

// EnsureProductMetrics creates the (product, date) row when missing
func (s *Store) EnsureProductMetrics(ctx context.Context, productID int64, date time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO product_metrics (product_id, metric_date)
		VALUES ($1, $2)
		ON CONFLICT (product_id, metric_date) DO NOTHING`,
		productID, dateKey(date))
	return err
}

// GetProductMetrics reads the (product, date) row
func (s *Store) GetProductMetrics(ctx context.Context, productID int64, date time.Time) (*models.ProductMetrics, error) {
	var m models.ProductMetrics
	err := s.q.GetContext(ctx, &m,
		"SELECT * FROM product_metrics WHERE product_id = $1 AND metric_date = $2",
		productID, dateKey(date))
	if err != nil {
		return nil, notFound(err, "metrics not found for product %d on %s", productID, dateKey(date))
	}
	return &m, nil
}

// UpdateProductMetricsVersioned writes m if its version is still current and
// bumps the version. false means another writer got there first.
func (s *Store) UpdateProductMetricsVersioned(ctx context.Context, m *models.ProductMetrics) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE product_metrics
		SET like_count = $1, sales_count = $2, view_count = $3, total_sales_amount = $4,
			version = version + 1, updated_at = NOW()
		WHERE id = $5 AND version = $6`,
		m.LikeCount, m.SalesCount, m.ViewCount, m.TotalSalesAmount, m.ID, m.Version)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		m.Version++
	}
	return n == 1, nil
}
