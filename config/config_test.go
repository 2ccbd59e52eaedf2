package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("SWEEP_INTERVAL", "15s")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := Load()

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "order-events", cfg.Kafka.TopicOrder)
	assert.Equal(t, "catalog-events", cfg.Kafka.TopicCatalog)
	assert.Equal(t, 15*time.Second, cfg.Business.SweepInterval)
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.Equal(t, 48*time.Hour, cfg.Business.RankingTTL)
	assert.NotNil(t, cfg.Business.Location)
}

func TestReservationOutlivesPayment(t *testing.T) {
	t.Setenv("RESERVATION_TTL", "5m")
	t.Setenv("PAYMENT_FAIL_AFTER", "10m")
	t.Setenv("SWEEP_INTERVAL", "30s")

	cfg := Load()

	assert.Equal(t, 10*time.Minute+30*time.Second, cfg.Business.ReservationTTL)
}
