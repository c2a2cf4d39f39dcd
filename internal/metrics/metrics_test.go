package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/friendbet/internal/domain"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestObserveOperation(t *testing.T) {
	m := New()
	m.ObserveOperation("match_bet", nil)
	m.ObserveOperation("match_bet", domain.ErrBetAlreadyMatched)
	m.ObserveOperation("match_bet", errors.New("db down"))

	body := scrape(t, m)
	assert.Contains(t, body, `friendbet_operations_total{op="match_bet",result="ok"} 1`)
	assert.Contains(t, body, `friendbet_operations_total{op="match_bet",result="state"} 1`)
	assert.Contains(t, body, `friendbet_operations_total{op="match_bet",result="error"} 1`)
}

func TestSettlementsAndFees(t *testing.T) {
	m := New()
	m.ObserveSettlement(domain.DirectionAbove, true)
	m.ObserveSettlement(domain.DirectionBelow, false)
	m.AddFees(600_000)
	m.AddFees(30_000)
	m.AddQuotes(3)

	body := scrape(t, m)
	assert.Contains(t, body, `friendbet_settlements_total{direction="above",winner="better"} 1`)
	assert.Contains(t, body, `friendbet_settlements_total{direction="below",winner="matcher"} 1`)
	assert.Contains(t, body, `friendbet_fees_collected_units_total 630000`)
	assert.Contains(t, body, `friendbet_feeder_quotes_total 3`)
	assert.Contains(t, body, `go_goroutines`)
}
