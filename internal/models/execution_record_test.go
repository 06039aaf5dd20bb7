package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountsTowardDailyLimit(t *testing.T) {
	counted := map[string]bool{
		ExecutionStatusPending:   true,
		ExecutionStatusExecuted:  true,
		ExecutionStatusFailed:    false,
		ExecutionStatusCancelled: false,
		ExecutionStatusRejected:  false,
	}

	for status, want := range counted {
		rec := ExecutionRecord{Status: status}
		assert.Equal(t, want, rec.CountsTowardDailyLimit(), status)
	}

	// The method and the store's SQL filter share one status list.
	assert.ElementsMatch(t, []string{ExecutionStatusPending, ExecutionStatusExecuted}, DailyLimitStatuses())
}
