// Package api exposes a consortium node over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/VanDung-dev/Consortium-Ledger/arrow"
	"github.com/VanDung-dev/Consortium-Ledger/ledger"
	"github.com/VanDung-dev/Consortium-Ledger/membership"
	"github.com/VanDung-dev/Consortium-Ledger/monitoring"
	"github.com/VanDung-dev/Consortium-Ledger/node"
)

// ArrowContentType is the media type of the chain export.
const ArrowContentType = "application/vnd.apache.arrow.stream"

// Service is the node surface served over HTTP.
type Service interface {
	AddFirstMember(name, role string) (membership.Member, error)
	RequestMembership(name, role string) (membership.Request, error)
	VoteOnMembership(requestAddress, voterAddress, action string) (membership.Decision, error)
	ListMembers(status string) ([]membership.Entry, error)
	ListMemberAddresses() []string
	RequestStatus(addr string) (membership.RequestStatus, error)
	SubmitTransaction(sender, recipient string, amount int64) (ledger.Transaction, error)
	ProposeBlock(proposer string) (ledger.Block, error)
	VoteOnBlock(index int64, voter string, approve bool) (ledger.Block, error)
	ListPendingBlocks() []ledger.Block
	GetChain() []ledger.Block
	GetBlock(index int64) (ledger.Block, error)
	VerifyChain() error
	Status() node.Status
}

// Server routes HTTP requests to a Service.
type Server struct {
	svc      Service
	router   *mux.Router
	auth     *Authenticator
	metrics  *monitoring.Metrics
	exporter *arrow.Exporter
	logger   zerolog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithAuth requires a token on every route.
func WithAuth(a *Authenticator) Option {
	return func(s *Server) { s.auth = a }
}

// WithMetrics records request counts and latency.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer builds the router.
func NewServer(svc Service, logger zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		svc:      svc,
		router:   mux.NewRouter(),
		exporter: arrow.NewExporter(),
		logger:   logger.With().Str("component", "api").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.observe)
	if s.auth != nil && s.auth.IsEnabled() {
		r.Use(s.auth.Middleware)
	}

	r.HandleFunc("/membership/add", s.addFirstMember).Methods(http.MethodPost)
	r.HandleFunc("/membership/request", s.requestMembership).Methods(http.MethodPost)
	r.HandleFunc("/membership/vote", s.voteOnMembership).Methods(http.MethodPost)
	r.HandleFunc("/membership/members", s.listMembers).Methods(http.MethodGet)
	r.HandleFunc("/membership/addresses", s.listAddresses).Methods(http.MethodGet)
	r.HandleFunc("/membership/requests/{address}", s.requestStatus).Methods(http.MethodGet)

	r.HandleFunc("/transactions", s.submitTransaction).Methods(http.MethodPost)

	r.HandleFunc("/blocks/propose", s.proposeBlock).Methods(http.MethodPost)
	r.HandleFunc("/blocks/pending", s.pendingBlocks).Methods(http.MethodGet)
	r.HandleFunc("/blocks/{index:[0-9]+}/vote", s.voteOnBlock).Methods(http.MethodPost)

	r.HandleFunc("/chain", s.chain).Methods(http.MethodGet)
	r.HandleFunc("/chain/verify", s.verifyChain).Methods(http.MethodGet)
	r.HandleFunc("/chain/arrow", s.chainArrow).Methods(http.MethodGet)
	r.HandleFunc("/chain/{index:[0-9]+}", s.block).Methods(http.MethodGet)

	r.HandleFunc("/status", s.status).Methods(http.MethodGet)
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("HTTP API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// observe logs each request and records its metrics under the route
// template so path parameters do not explode label cardinality.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		elapsed := time.Since(start)
		s.metrics.RecordHTTPRequest(route, strconv.Itoa(rec.code), elapsed)
		s.logger.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", rec.code).
			Dur("elapsed", elapsed).
			Msg("HTTP request")
	})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	code := StatusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Int("status", code).Msg("Request failed")
	}
	WriteError(w, code, err)
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

func pathIndex(r *http.Request) (int64, error) {
	idx, err := strconv.ParseInt(mux.Vars(r)["index"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: block index: %v", ErrBadRequest, err)
	}
	return idx, nil
}
