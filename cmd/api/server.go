package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hangleang/freescrow/arbitrator"
	"github.com/hangleang/freescrow/auth"
	"github.com/hangleang/freescrow/escrow"
	"github.com/hangleang/freescrow/ledger"
	"github.com/hangleang/freescrow/registry"
)

type ctxKey string

const (
	ctxKeyUserID ctxKey = "userID"
	ctxKeyRole   ctxKey = "role"
)

// escrowRegistry is the slice of the registry service the handlers drive.
type escrowRegistry interface {
	Create(ctx context.Context, p registry.CreateParams) (*escrow.Escrow, error)
	Deposit(ctx context.Context, escrowID, caller string, amount uint64, auctionDuration time.Duration, minBid uint64) error
	StartAuction(ctx context.Context, escrowID, caller string, auctionDuration time.Duration, minBid uint64) error
	EndAuction(ctx context.Context, escrowID, caller string, requestedStart time.Time) error
	PlaceBid(ctx context.Context, escrowID, caller string, amount uint64) error
	ConfirmDelivered(ctx context.Context, escrowID, caller string) error
	VerifyDelivered(ctx context.Context, escrowID, caller string) error
	RejectDelivered(ctx context.Context, escrowID, caller string) error
	ReleaseFunds(ctx context.Context, escrowID, caller string) error
	ClaimPayment(ctx context.Context, escrowID, caller string) error
	ReclaimFunds(ctx context.Context, escrowID, caller string) error
	CloseProject(ctx context.Context, escrowID, caller string) error
	DepositArbitrationFee(ctx context.Context, escrowID, caller string, amount uint64) error
	TimeOut(ctx context.Context, escrowID, caller string) error
}

// escrowReader serves the read endpoints.
type escrowReader interface {
	Get(ctx context.Context, id string) (*escrow.Escrow, error)
	List(ctx context.Context, clientID string, limit int) ([]string, error)
	ListEvents(ctx context.Context, escrowID string) ([]registry.TimelineEvent, error)
}

// arbitration issues rulings and reads dispute records.
type arbitration interface {
	Rule(ctx context.Context, disputeID uint64, ruling escrow.Ruling) (arbitrator.Record, error)
	Fee() uint64
}

type disputeReader interface {
	Get(ctx context.Context, id uint64) (arbitrator.Record, error)
}

// accountLedger serves balance reads and the top-up faucet.
type accountLedger interface {
	Balance(ctx context.Context, account string) (uint64, error)
	Deposit(ctx context.Context, account string, amount uint64) error
}

type authenticator interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(tokenString string) (string, auth.Role, error)
	GetUserByID(ctx context.Context, userID string) (*auth.User, error)
}

// Server holds the HTTP handlers and their service dependencies.
type Server struct {
	authService authenticator
	registry    escrowRegistry
	reader      escrowReader
	arbService  arbitration
	disputes    disputeReader
	accounts    accountLedger
	logger      *zap.Logger
}

func newServer(authService authenticator, reg escrowRegistry, reader escrowReader, arbService arbitration, disputes disputeReader, accounts accountLedger, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		authService: authService,
		registry:    reg,
		reader:      reader,
		arbService:  arbService,
		disputes:    disputes,
		accounts:    accounts,
		logger:      logger,
	}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("GET /api/me", s.requireAuth(s.handleMe))

	mux.HandleFunc("GET /api/accounts/balance", s.requireAuth(s.handleBalance))
	mux.HandleFunc("POST /api/accounts/topup", s.requireAuth(s.handleTopUp))

	mux.HandleFunc("POST /api/escrows", s.requireAuth(s.handleCreateEscrow))
	mux.HandleFunc("GET /api/escrows", s.requireAuth(s.handleListEscrows))
	mux.HandleFunc("GET /api/escrows/{id}", s.requireAuth(s.handleGetEscrow))
	mux.HandleFunc("GET /api/escrows/{id}/events", s.requireAuth(s.handleEscrowEvents))

	mux.HandleFunc("POST /api/escrows/{id}/deposit", s.requireAuth(s.handleDeposit))
	mux.HandleFunc("POST /api/escrows/{id}/auction/start", s.requireAuth(s.handleStartAuction))
	mux.HandleFunc("POST /api/escrows/{id}/auction/end", s.requireAuth(s.handleEndAuction))
	mux.HandleFunc("POST /api/escrows/{id}/bids", s.requireAuth(s.handlePlaceBid))
	mux.HandleFunc("POST /api/escrows/{id}/delivered", s.requireAuth(s.lifecycle(registry.EventDelivered)))
	mux.HandleFunc("POST /api/escrows/{id}/verify", s.requireAuth(s.lifecycle(registry.EventVerified)))
	mux.HandleFunc("POST /api/escrows/{id}/reject", s.requireAuth(s.lifecycle(registry.EventRejected)))
	mux.HandleFunc("POST /api/escrows/{id}/release", s.requireAuth(s.lifecycle(registry.EventReleased)))
	mux.HandleFunc("POST /api/escrows/{id}/claim", s.requireAuth(s.lifecycle(registry.EventClaimed)))
	mux.HandleFunc("POST /api/escrows/{id}/reclaim", s.requireAuth(s.lifecycle(registry.EventReclaimed)))
	mux.HandleFunc("POST /api/escrows/{id}/close", s.requireAuth(s.lifecycle(registry.EventClosed)))
	mux.HandleFunc("POST /api/escrows/{id}/dispute/fee", s.requireAuth(s.handleDepositFee))
	mux.HandleFunc("POST /api/escrows/{id}/dispute/timeout", s.requireAuth(s.lifecycle(registry.EventTimedOut)))

	mux.HandleFunc("GET /api/arbitration/fee", s.handleArbitrationFee)
	mux.HandleFunc("GET /api/disputes/{id}", s.requireAuth(s.handleGetDispute))
	mux.HandleFunc("POST /api/disputes/{id}/rule", s.requireAuth(s.handleRule))

	return mux
}

// requireAuth validates the bearer token and stashes the caller identity in
// the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, role, err := s.authService.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		ctx = context.WithValue(ctx, ctxKeyRole, role)
		next(w, r.WithContext(ctx))
	}
}

func callerID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKeyUserID).(string)
	return id
}

func callerRole(r *http.Request) auth.Role {
	role, _ := r.Context().Value(ctxKeyRole).(auth.Role)
	return role
}

type userResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Role     string `json:"role"`
}

func toUserResponse(u *auth.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, FullName: u.FullName, Role: string(u.Role)}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrDuplicateEmail) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		s.internalError(w, "login", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user":  toUserResponse(&result.User),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.authService.GetUserByID(r.Context(), callerID(r))
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		s.internalError(w, "get user", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.accounts.Balance(r.Context(), callerID(r))
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		s.internalError(w, "balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account": callerID(r),
		"balance": balance,
	})
}

// handleTopUp credits the caller's own account. Stand-in for an external
// payment rail.
func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount uint64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Amount == 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	if err := s.accounts.Deposit(r.Context(), callerID(r), req.Amount); err != nil {
		s.internalError(w, "top up", err)
		return
	}
	balance, err := s.accounts.Balance(r.Context(), callerID(r))
	if err != nil {
		s.internalError(w, "balance after top up", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account": callerID(r),
		"balance": balance,
	})
}

type createEscrowRequest struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	DurationSeconds  int64  `json:"durationSeconds"`
	FeePeriodSeconds int64  `json:"feePeriodSeconds"`
	ExtraData        []byte `json:"extraData,omitempty"`
}

func (s *Server) handleCreateEscrow(w http.ResponseWriter, r *http.Request) {
	var req createEscrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	e, err := s.registry.Create(r.Context(), registry.CreateParams{
		Client:           callerID(r),
		Title:            req.Title,
		Description:      req.Description,
		Duration:         time.Duration(req.DurationSeconds) * time.Second,
		FeeDepositPeriod: time.Duration(req.FeePeriodSeconds) * time.Second,
		ExtraData:        req.ExtraData,
	})
	if err != nil {
		s.writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEscrowResponse(e))
}

func (s *Server) handleListEscrows(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed limit")
			return
		}
		limit = n
	}
	clientID := r.URL.Query().Get("client")
	ids, err := s.reader.List(r.Context(), clientID, limit)
	if err != nil {
		s.internalError(w, "list escrows", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": ids, "total": len(ids)})
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	e, err := s.reader.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEscrowResponse(e))
}

type eventResponse struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	ActorID   string          `json:"actorId,omitempty"`
	CreatedAt string          `json:"createdAt"`
}

func (s *Server) handleEscrowEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.reader.ListEvents(r.Context(), r.PathValue("id"))
	if err != nil {
		s.internalError(w, "list events", err)
		return
	}
	items := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		items = append(items, eventResponse{
			ID:        ev.ID,
			Type:      ev.Type,
			Payload:   ev.Payload,
			ActorID:   ev.ActorID,
			CreatedAt: ev.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type depositRequest struct {
	Amount                 uint64 `json:"amount"`
	AuctionDurationSeconds int64  `json:"auctionDurationSeconds"`
	MinBid                 uint64 `json:"minBid"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	err := s.registry.Deposit(r.Context(), r.PathValue("id"), callerID(r), req.Amount,
		time.Duration(req.AuctionDurationSeconds)*time.Second, req.MinBid)
	if err != nil {
		s.writeOperationError(w, err)
		return
	}
	s.respondWithEscrow(w, r)
}

type startAuctionRequest struct {
	DurationSeconds int64  `json:"durationSeconds"`
	MinBid          uint64 `json:"minBid"`
}

func (s *Server) handleStartAuction(w http.ResponseWriter, r *http.Request) {
	var req startAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	err := s.registry.StartAuction(r.Context(), r.PathValue("id"), callerID(r),
		time.Duration(req.DurationSeconds)*time.Second, req.MinBid)
	if err != nil {
		s.writeOperationError(w, err)
		return
	}
	s.respondWithEscrow(w, r)
}

type endAuctionRequest struct {
	StartAt string `json:"startAt,omitempty"`
}

func (s *Server) handleEndAuction(w http.ResponseWriter, r *http.Request) {
	var req endAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	var startAt time.Time
	if req.StartAt != "" {
		t, err := time.Parse(time.RFC3339, req.StartAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed startAt, want RFC3339")
			return
		}
		startAt = t
	}
	if err := s.registry.EndAuction(r.Context(), r.PathValue("id"), callerID(r), startAt); err != nil {
		s.writeOperationError(w, err)
		return
	}
	s.respondWithEscrow(w, r)
}

func (s *Server) handlePlaceBid(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount uint64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.registry.PlaceBid(r.Context(), r.PathValue("id"), callerID(r), req.Amount); err != nil {
		s.writeOperationError(w, err)
		return
	}
	s.respondWithEscrow(w, r)
}

// lifecycle builds a handler for the body-less status transitions.
func (s *Server) lifecycle(event string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var op func(ctx context.Context, escrowID, caller string) error
		switch event {
		case registry.EventDelivered:
			op = s.registry.ConfirmDelivered
		case registry.EventVerified:
			op = s.registry.VerifyDelivered
		case registry.EventRejected:
			op = s.registry.RejectDelivered
		case registry.EventReleased:
			op = s.registry.ReleaseFunds
		case registry.EventClaimed:
			op = s.registry.ClaimPayment
		case registry.EventReclaimed:
			op = s.registry.ReclaimFunds
		case registry.EventClosed:
			op = s.registry.CloseProject
		case registry.EventTimedOut:
			op = s.registry.TimeOut
		default:
			s.internalError(w, "route", errors.New("unmapped lifecycle event "+event))
			return
		}
		if err := op(r.Context(), r.PathValue("id"), callerID(r)); err != nil {
			s.writeOperationError(w, err)
			return
		}
		s.respondWithEscrow(w, r)
	}
}

func (s *Server) handleDepositFee(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount uint64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.registry.DepositArbitrationFee(r.Context(), r.PathValue("id"), callerID(r), req.Amount); err != nil {
		s.writeOperationError(w, err)
		return
	}
	s.respondWithEscrow(w, r)
}

type disputeResponse struct {
	ID        uint64 `json:"id"`
	EscrowID  string `json:"escrowId"`
	Choices   int    `json:"choices"`
	Status    string `json:"status"`
	Ruling    *int16 `json:"ruling,omitempty"`
	CreatedAt string `json:"createdAt"`
	RuledAt   string `json:"ruledAt,omitempty"`
}

func toDisputeResponse(rec arbitrator.Record) disputeResponse {
	resp := disputeResponse{
		ID:        rec.ID,
		EscrowID:  rec.EscrowID,
		Choices:   rec.Choices,
		Status:    string(rec.Status),
		Ruling:    rec.Ruling,
		CreatedAt: rec.CreatedAt.Format(time.RFC3339),
	}
	if rec.RuledAt != nil {
		resp.RuledAt = rec.RuledAt.Format(time.RFC3339)
	}
	return resp
}

func (s *Server) handleArbitrationFee(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"fee": s.arbService.Fee()})
}

func (s *Server) handleGetDispute(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed dispute id")
		return
	}
	rec, err := s.disputes.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, arbitrator.ErrNotFound) {
			writeError(w, http.StatusNotFound, "dispute not found")
			return
		}
		s.internalError(w, "get dispute", err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(rec))
}

func (s *Server) handleRule(w http.ResponseWriter, r *http.Request) {
	if callerRole(r) != auth.RoleArbitrator {
		writeError(w, http.StatusForbidden, "arbitrator role required")
		return
	}
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed dispute id")
		return
	}
	var req struct {
		Ruling int16 `json:"ruling"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	rec, err := s.arbService.Rule(r.Context(), id, escrow.Ruling(req.Ruling))
	if err != nil {
		if errors.Is(err, arbitrator.ErrNotFound) {
			writeError(w, http.StatusNotFound, "dispute not found")
			return
		}
		if errors.Is(err, arbitrator.ErrAlreadyRuled) {
			writeError(w, http.StatusConflict, "dispute already ruled")
			return
		}
		s.writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(rec))
}

type bidResponse struct {
	Participant string `json:"participant"`
	Amount      uint64 `json:"amount"`
}

type auctionResponse struct {
	MinBid    uint64        `json:"minBid"`
	StartedAt string        `json:"startedAt"`
	EndAt     string        `json:"endAt"`
	Bids      []bidResponse `json:"bids"`
}

type disputeStateResponse struct {
	ID            uint64 `json:"id,omitempty"`
	ClientFee     uint64 `json:"clientFee"`
	FreelancerFee uint64 `json:"freelancerFee"`
	Ruling        int16  `json:"ruling"`
	FirstFeeAt    string `json:"firstFeeAt"`
}

type escrowResponse struct {
	ID               string                `json:"id"`
	Client           string                `json:"client"`
	Freelancer       string                `json:"freelancer,omitempty"`
	Title            string                `json:"title"`
	Description      string                `json:"description,omitempty"`
	DurationSeconds  int64                 `json:"durationSeconds"`
	FeePeriodSeconds int64                 `json:"feePeriodSeconds"`
	Fund             uint64                `json:"fund"`
	HighestBid       uint64                `json:"highestBid"`
	Status           string                `json:"status"`
	StartedAt        string                `json:"startedAt,omitempty"`
	DeliveredAt      string                `json:"deliveredAt,omitempty"`
	Deadline         string                `json:"deadline,omitempty"`
	Auction          *auctionResponse      `json:"auction,omitempty"`
	Dispute          *disputeStateResponse `json:"dispute,omitempty"`
}

func toEscrowResponse(e *escrow.Escrow) escrowResponse {
	resp := escrowResponse{
		ID:               e.ID,
		Client:           e.Client,
		Freelancer:       e.Freelancer,
		Title:            e.Title,
		Description:      e.Description,
		DurationSeconds:  int64(e.Duration / time.Second),
		FeePeriodSeconds: int64(e.FeeDepositPeriod / time.Second),
		Fund:             e.Fund,
		HighestBid:       e.HighestBid,
		Status:           string(e.Status),
	}
	if !e.StartedAt.IsZero() {
		resp.StartedAt = e.StartedAt.Format(time.RFC3339)
	}
	if !e.DeliveredAt.IsZero() {
		resp.DeliveredAt = e.DeliveredAt.Format(time.RFC3339)
	}
	if !e.Deadline.IsZero() {
		resp.Deadline = e.Deadline.Format(time.RFC3339)
	}
	if a := e.Auction; a != nil {
		ar := &auctionResponse{
			MinBid:    a.MinBid,
			StartedAt: a.StartedAt.Format(time.RFC3339),
			EndAt:     a.EndAt.Format(time.RFC3339),
			Bids:      make([]bidResponse, 0, len(a.Bids)),
		}
		for _, b := range a.Bids {
			ar.Bids = append(ar.Bids, bidResponse{Participant: b.Participant, Amount: b.Amount})
		}
		resp.Auction = ar
	}
	if d := e.Dispute; d != nil {
		resp.Dispute = &disputeStateResponse{
			ID:            d.ID,
			ClientFee:     d.ClientFee,
			FreelancerFee: d.FreelancerFee,
			Ruling:        int16(d.Ruling),
			FirstFeeAt:    d.FirstFeeAt.Format(time.RFC3339),
		}
	}
	return resp
}

func (s *Server) respondWithEscrow(w http.ResponseWriter, r *http.Request) {
	e, err := s.reader.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEscrowResponse(e))
}

// writeOperationError maps the escrow error taxonomy onto HTTP statuses.
func (s *Server) writeOperationError(w http.ResponseWriter, err error) {
	var (
		accessDenied *escrow.AccessDeniedError
		badStatus    *escrow.UnexpectedStatusError
	)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, "escrow not found")
	case errors.As(err, &accessDenied):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &badStatus):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, "insufficient balance")
	case isDomainRejection(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.internalError(w, "escrow operation", err)
	}
}

func isDomainRejection(err error) bool {
	var (
		duration *escrow.InvalidDurationError
		address  *escrow.InvalidAddressError
		deposit  *escrow.InsufficientDepositError
		past     *escrow.PastDeadlineError
		early    *escrow.TooEarlyError
		over     *escrow.OverMaximumError
		below    *escrow.BelowMinimumError
		index    *escrow.InvalidIndexError
	)
	return errors.As(err, &duration) ||
		errors.As(err, &address) ||
		errors.As(err, &deposit) ||
		errors.As(err, &past) ||
		errors.As(err, &early) ||
		errors.As(err, &over) ||
		errors.As(err, &below) ||
		errors.As(err, &index) ||
		errors.Is(err, escrow.ErrNotYetDeposited)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
