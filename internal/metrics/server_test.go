package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoard(t *testing.T) {
	b := NewBoard()
	_, ok := b.Get("work")
	assert.False(t, ok)

	b.Report(AccountStatus{Account: "work", Fetched: 2})
	b.Report(AccountStatus{Account: "archive", Fetched: 1})
	b.Report(AccountStatus{Account: "work", Fetched: 3})

	s, ok := b.Get("work")
	require.True(t, ok)
	assert.Equal(t, 3, s.Fetched)

	all := b.All()
	require.Len(t, all, 2)
	assert.Equal(t, "archive", all[0].Account)
	assert.Equal(t, "work", all[1].Account)
}

func TestRouter(t *testing.T) {
	board := NewBoard()
	board.Report(AccountStatus{
		Account:   "work",
		Protocol:  "pop3",
		LastPoll:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Fetched:   4,
		LastError: "connection refused",
	})
	router := Router(board)

	t.Run("healthz", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok\n", rec.Body.String())
	})

	t.Run("account", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/accounts/work", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var s AccountStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
		assert.Equal(t, "pop3", s.Protocol)
		assert.Equal(t, 4, s.Fetched)
		assert.Equal(t, "connection refused", s.LastError)
	})

	t.Run("unknown account", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/accounts/nope", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "unknown account nope")
	})

	t.Run("list", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/accounts", nil))
		var all []AccountStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
		assert.Len(t, all, 1)
	})

	t.Run("method not allowed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/accounts", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("metrics", func(t *testing.T) {
		MessagesFetched.WithLabelValues("router-test").Add(2)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, strings.Contains(rec.Body.String(), `mailfetch_messages_fetched_total{account="router-test"} 2`))
	})
}

func TestCounters(t *testing.T) {
	Errors.Reset()
	Errors.WithLabelValues("work", "connect").Inc()
	Errors.WithLabelValues("work", "connect").Inc()
	Errors.WithLabelValues("work", "parse").Inc()

	assert.Equal(t, float64(2), testutil.ToFloat64(Errors.WithLabelValues("work", "connect")))
	assert.Equal(t, 2, testutil.CollectAndCount(Errors))
}
