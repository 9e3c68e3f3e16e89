package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridexhq/veridex/internal/domain"
)

func TestOverdueMarkets(t *testing.T) {
	now := time.Now().UTC()
	markets := []domain.MarketQuery{
		{ContractAddress: "0xrecent", ResolutionDate: now.Add(-time.Minute)},
		{ContractAddress: "0xstale", ResolutionDate: now.Add(-2 * time.Hour)},
		{ContractAddress: "0xfuture", ResolutionDate: now.Add(time.Hour)},
	}

	// Only the market past its resolution date by more than the grace
	// period is reported.
	got := overdueMarkets(markets, now)
	require.Len(t, got, 1)
	assert.Equal(t, "0xstale", got[0].ContractAddress)

	assert.Empty(t, overdueMarkets(nil, now))
}
