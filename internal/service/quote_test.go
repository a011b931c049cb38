package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestQuoteService_Estimate(t *testing.T) {
	svc := NewQuoteService(zap.NewNop())

	valid := QuoteRequest{
		SourceChainID: 1315,
		DestChainID:   8453,
		SourceToken:   "0x0000000000000000000000000000000000000000",
		DestToken:     "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Amount:        "1000000",
	}

	tests := []struct {
		name        string
		mutate      func(r *QuoteRequest)
		expectNil   bool
		expectedFee string
		expectedOut string
		expectedETA int
	}{
		{
			name:        "fee is 0.3 percent",
			mutate:      func(r *QuoteRequest) {},
			expectedFee: "3000",
			expectedOut: "997000",
			expectedETA: 300,
		},
		{
			name:        "ethereum on either side is slower",
			mutate:      func(r *QuoteRequest) { r.DestChainID = 1 },
			expectedFee: "3000",
			expectedOut: "997000",
			expectedETA: 600,
		},
		{
			name: "fee rounds down",
			mutate: func(r *QuoteRequest) {
				r.SourceChainID = 1
				r.Amount = "999"
			},
			expectedFee: "2",
			expectedOut: "997",
			expectedETA: 600,
		},
		{
			name:        "amounts beyond int64",
			mutate:      func(r *QuoteRequest) { r.Amount = "1000000000000000000000000" },
			expectedFee: "3000000000000000000000",
			expectedOut: "997000000000000000000000",
			expectedETA: 300,
		},
		{name: "same chain", mutate: func(r *QuoteRequest) { r.DestChainID = r.SourceChainID }, expectNil: true},
		{name: "missing source chain", mutate: func(r *QuoteRequest) { r.SourceChainID = 0 }, expectNil: true},
		{name: "missing dest chain", mutate: func(r *QuoteRequest) { r.DestChainID = 0 }, expectNil: true},
		{name: "missing source token", mutate: func(r *QuoteRequest) { r.SourceToken = "" }, expectNil: true},
		{name: "missing dest token", mutate: func(r *QuoteRequest) { r.DestToken = " " }, expectNil: true},
		{name: "missing amount", mutate: func(r *QuoteRequest) { r.Amount = "" }, expectNil: true},
		{name: "non-numeric amount", mutate: func(r *QuoteRequest) { r.Amount = "1e18" }, expectNil: true},
		{name: "zero amount", mutate: func(r *QuoteRequest) { r.Amount = "0" }, expectNil: true},
		{name: "negative amount", mutate: func(r *QuoteRequest) { r.Amount = "-5" }, expectNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)

			quote := svc.Estimate(req)
			if tt.expectNil {
				assert.Nil(t, quote)
				return
			}
			require.NotNil(t, quote)
			assert.Equal(t, tt.expectedFee, quote.Fee)
			assert.Equal(t, tt.expectedOut, quote.EstimatedAmount)
			assert.Equal(t, tt.expectedETA, quote.EstimatedTime)
			assert.Equal(t, 0.1, quote.PriceImpact)
		})
	}
}

func TestQuoteTracker_IssueSupersedes(t *testing.T) {
	tracker := NewQuoteTracker(16, time.Minute)

	first := tracker.Issue("session-a")
	second := tracker.Issue("session-a")
	other := tracker.Issue("session-b")

	assert.Equal(t, uint64(1), first)
	assert.Equal(t, uint64(2), second)
	assert.Equal(t, uint64(1), other)

	assert.False(t, tracker.IsCurrent("session-a", first), "older response is stale")
	assert.True(t, tracker.IsCurrent("session-a", second))
	assert.True(t, tracker.IsCurrent("session-b", other))
}

func TestQuoteTracker_ObserveOutOfOrder(t *testing.T) {
	tracker := NewQuoteTracker(16, time.Minute)

	assert.True(t, tracker.Observe("s", 5))
	assert.True(t, tracker.Observe("s", 7))
	// a delayed request carrying an older token arrives late
	assert.False(t, tracker.Observe("s", 6))

	assert.False(t, tracker.IsCurrent("s", 5))
	assert.False(t, tracker.IsCurrent("s", 6))
	assert.True(t, tracker.IsCurrent("s", 7))

	// issued tokens continue after the highest observed one
	assert.Equal(t, uint64(8), tracker.Issue("s"))
}

func TestQuoteTracker_UnknownSessionIsCurrent(t *testing.T) {
	tracker := NewQuoteTracker(1, time.Minute)
	tracker.Issue("a")
	tracker.Issue("b") // evicts a

	assert.True(t, tracker.IsCurrent("a", 1))
}
