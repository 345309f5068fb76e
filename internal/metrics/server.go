package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AccountStatus is the outcome of the latest poll of one account.
type AccountStatus struct {
	Account   string    `json:"account"`
	Protocol  string    `json:"protocol"`
	LastPoll  time.Time `json:"last_poll"`
	Fetched   int       `json:"fetched"`
	Pending   int       `json:"pending"`
	Tracked   int       `json:"tracked"`
	LastError string    `json:"last_error,omitempty"`
}

// Board collects AccountStatus values reported by the pollers.
type Board struct {
	mu       sync.RWMutex
	accounts map[string]AccountStatus
}

func NewBoard() *Board {
	return &Board{accounts: make(map[string]AccountStatus)}
}

// Report replaces the status of s.Account.
func (b *Board) Report(s AccountStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts[s.Account] = s
}

// Get returns the status of one account.
func (b *Board) Get(account string) (AccountStatus, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.accounts[account]
	return s, ok
}

// All returns every status ordered by account name.
func (b *Board) All() []AccountStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]AccountStatus, 0, len(b.accounts))
	for _, s := range b.accounts {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out
}

// Router serves /metrics, /healthz and the account status endpoints.
func Router(board *Board) *mux.Router {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)
	router.HandleFunc("/accounts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, board.All())
	}).Methods(http.MethodGet)
	router.HandleFunc("/accounts/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		s, ok := board.Get(name)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown account " + name})
			return
		}
		writeJSON(w, http.StatusOK, s)
	}).Methods(http.MethodGet)
	return router
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Serve runs the HTTP endpoint on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, board *Board, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           Router(board),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", "error", err)
		}
	}()

	logger.Info("metrics server listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
