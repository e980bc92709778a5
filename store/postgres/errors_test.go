package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/warp/fuel-ledger/stock"
)

func TestLockConflict(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"deadlock", &pq.Error{Code: deadlockDetected}, true},
		{"lock not available", fmt.Errorf("failed to commit: %w", &pq.Error{Code: lockNotAvailable}), true},
		{"unique violation", &pq.Error{Code: uniqueViolation}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := lockConflict(tt.err)
			assert.Equal(t, tt.retryable, stock.IsRetryable(got))
			assert.ErrorContains(t, got, tt.err.Error())
		})
	}
}
