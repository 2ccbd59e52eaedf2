package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", Validation("bad %s", "input"), KindValidation},
		{"wrapped not found", fmt.Errorf("load order: %w", NotFound("order %d", 1)), KindNotFound},
		{"insufficient stock", InsufficientStock(1, 3, 5), KindInsufficientResource},
		{"foreign", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestCodes(t *testing.T) {
	assert.Equal(t, CodeInsufficientStock, CodeOf(InsufficientStock(1, 3, 5)))
	assert.Equal(t, CodeNotEnoughPoints, CodeOf(fmt.Errorf("debit: %w", NotEnoughPoints(10, 20))))
	assert.Equal(t, CodeDuplicate, CodeOf(Conflict("payment exists")))
	assert.Empty(t, CodeOf(errors.New("plain")))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("redis down")
	err := Transient(cause, "ranking unavailable")

	assert.ErrorIs(t, err, cause)
	assert.True(t, Is(err, KindTransientInfra))
	assert.False(t, Is(nil, KindTransientInfra))
	assert.Contains(t, err.Error(), "redis down")
}

func TestWithCodeCopies(t *testing.T) {
	base := New(KindConflict, "exists")
	coded := base.WithCode("X")

	assert.Empty(t, base.Code)
	assert.Equal(t, "X", coded.Code)
}
