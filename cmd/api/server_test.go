package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hangleang/freescrow/arbitrator"
	"github.com/hangleang/freescrow/auth"
	"github.com/hangleang/freescrow/escrow"
	"github.com/hangleang/freescrow/ledger"
	"github.com/hangleang/freescrow/registry"
)

type stubRegistry struct {
	calls []string
	err   error
}

func (s *stubRegistry) record(op, escrowID string) error {
	s.calls = append(s.calls, op+":"+escrowID)
	return s.err
}

func (s *stubRegistry) Create(_ context.Context, p registry.CreateParams) (*escrow.Escrow, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &escrow.Escrow{
		ID:       "esc-1",
		Client:   p.Client,
		Title:    p.Title,
		Duration: p.Duration,
		Status:   escrow.StatusInitialized,
	}, nil
}

func (s *stubRegistry) Deposit(_ context.Context, escrowID, _ string, _ uint64, _ time.Duration, _ uint64) error {
	return s.record("deposit", escrowID)
}

func (s *stubRegistry) StartAuction(_ context.Context, escrowID, _ string, _ time.Duration, _ uint64) error {
	return s.record("start_auction", escrowID)
}

func (s *stubRegistry) EndAuction(_ context.Context, escrowID, _ string, _ time.Time) error {
	return s.record("end_auction", escrowID)
}

func (s *stubRegistry) PlaceBid(_ context.Context, escrowID, _ string, _ uint64) error {
	return s.record("place_bid", escrowID)
}

func (s *stubRegistry) ConfirmDelivered(_ context.Context, escrowID, _ string) error {
	return s.record("delivered", escrowID)
}

func (s *stubRegistry) VerifyDelivered(_ context.Context, escrowID, _ string) error {
	return s.record("verify", escrowID)
}

func (s *stubRegistry) RejectDelivered(_ context.Context, escrowID, _ string) error {
	return s.record("reject", escrowID)
}

func (s *stubRegistry) ReleaseFunds(_ context.Context, escrowID, _ string) error {
	return s.record("release", escrowID)
}

func (s *stubRegistry) ClaimPayment(_ context.Context, escrowID, _ string) error {
	return s.record("claim", escrowID)
}

func (s *stubRegistry) ReclaimFunds(_ context.Context, escrowID, _ string) error {
	return s.record("reclaim", escrowID)
}

func (s *stubRegistry) CloseProject(_ context.Context, escrowID, _ string) error {
	return s.record("close", escrowID)
}

func (s *stubRegistry) DepositArbitrationFee(_ context.Context, escrowID, _ string, _ uint64) error {
	return s.record("dispute_fee", escrowID)
}

func (s *stubRegistry) TimeOut(_ context.Context, escrowID, _ string) error {
	return s.record("time_out", escrowID)
}

type stubReader struct {
	escrow *escrow.Escrow
	ids    []string
	events []registry.TimelineEvent
	err    error
}

func (s *stubReader) Get(context.Context, string) (*escrow.Escrow, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.escrow, nil
}

func (s *stubReader) List(context.Context, string, int) ([]string, error) {
	return s.ids, s.err
}

func (s *stubReader) ListEvents(context.Context, string) ([]registry.TimelineEvent, error) {
	return s.events, s.err
}

type stubArbitration struct {
	record arbitrator.Record
	err    error
}

func (s *stubArbitration) Rule(context.Context, uint64, escrow.Ruling) (arbitrator.Record, error) {
	return s.record, s.err
}

func (s *stubArbitration) Fee() uint64 { return 10 }

type stubDisputes struct {
	record arbitrator.Record
	err    error
}

func (s *stubDisputes) Get(context.Context, uint64) (arbitrator.Record, error) {
	return s.record, s.err
}

type stubAccounts struct {
	balance  uint64
	deposits uint64
	err      error
}

func (s *stubAccounts) Balance(context.Context, string) (uint64, error) {
	return s.balance, s.err
}

func (s *stubAccounts) Deposit(_ context.Context, _ string, amount uint64) error {
	if s.err != nil {
		return s.err
	}
	s.deposits += amount
	s.balance += amount
	return nil
}

type stubAuth struct {
	user      *auth.User
	loginErr  error
	verifyID  string
	verifyErr error
}

func (s *stubAuth) Register(_ context.Context, req auth.RegisterRequest) (*auth.User, error) {
	if s.loginErr != nil {
		return nil, s.loginErr
	}
	return &auth.User{ID: "u1", Email: req.Email, FullName: req.FullName, Role: auth.RoleClient}, nil
}

func (s *stubAuth) Login(context.Context, auth.LoginRequest) (auth.LoginResult, error) {
	if s.loginErr != nil {
		return auth.LoginResult{}, s.loginErr
	}
	return auth.LoginResult{Token: "tok", User: *s.user}, nil
}

func (s *stubAuth) VerifyToken(string) (string, auth.Role, error) {
	return s.verifyID, auth.RoleClient, s.verifyErr
}

func (s *stubAuth) GetUserByID(context.Context, string) (*auth.User, error) {
	if s.user == nil {
		return nil, auth.ErrUserNotFound
	}
	return s.user, nil
}

func authedRequest(method, target string, body string, userID string, role auth.Role) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	ctx := context.WithValue(req.Context(), ctxKeyUserID, userID)
	ctx = context.WithValue(ctx, ctxKeyRole, role)
	return req.WithContext(ctx)
}

func TestRequireAuth_MissingToken(t *testing.T) {
	server := newServer(&stubAuth{}, nil, nil, nil, nil, nil, nil)

	handler := server.requireAuth(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run")
	})
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	rec := httptest.NewRecorder()

	handler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireAuth_PassesIdentity(t *testing.T) {
	server := newServer(&stubAuth{verifyID: "u1"}, nil, nil, nil, nil, nil, nil)

	var gotID string
	handler := server.requireAuth(func(_ http.ResponseWriter, r *http.Request) {
		gotID = callerID(r)
	})
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()

	handler(rec, req)

	if gotID != "u1" {
		t.Fatalf("expected caller u1, got %q", gotID)
	}
}

func TestHandleRegister_Duplicate(t *testing.T) {
	server := newServer(&stubAuth{loginErr: auth.ErrDuplicateEmail}, nil, nil, nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register",
		strings.NewReader(`{"email":"a@b.c","password":"strongpassword","full_name":"A"}`))
	rec := httptest.NewRecorder()

	server.handleRegister(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandleCreateEscrow_Success(t *testing.T) {
	reg := &stubRegistry{}
	server := newServer(&stubAuth{}, reg, &stubReader{}, nil, nil, nil, nil)

	req := authedRequest(http.MethodPost, "/api/escrows",
		`{"title":"Logo design","durationSeconds":86400,"feePeriodSeconds":3600}`,
		"client-1", auth.RoleClient)
	rec := httptest.NewRecorder()

	server.handleCreateEscrow(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp escrowResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "esc-1" || resp.Client != "client-1" || resp.Status != string(escrow.StatusInitialized) {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestHandleCreateEscrow_Validation(t *testing.T) {
	reg := &stubRegistry{err: &escrow.InvalidDurationError{}}
	server := newServer(&stubAuth{}, reg, &stubReader{}, nil, nil, nil, nil)

	req := authedRequest(http.MethodPost, "/api/escrows", `{"title":"x"}`, "client-1", auth.RoleClient)
	rec := httptest.NewRecorder()

	server.handleCreateEscrow(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleDeposit_InsufficientFunds(t *testing.T) {
	reg := &stubRegistry{err: ledger.ErrInsufficientFunds}
	server := newServer(&stubAuth{}, reg, &stubReader{}, nil, nil, nil, nil)

	req := authedRequest(http.MethodPost, "/api/escrows/esc-1/deposit", `{"amount":100}`, "client-1", auth.RoleClient)
	req.SetPathValue("id", "esc-1")
	rec := httptest.NewRecorder()

	server.handleDeposit(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rec.Code)
	}
}

func TestOperationErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", registry.ErrNotFound, http.StatusNotFound},
		{"access denied", &escrow.AccessDeniedError{Op: "verify_delivered"}, http.StatusForbidden},
		{"wrong status", &escrow.UnexpectedStatusError{Op: "verify_delivered"}, http.StatusConflict},
		{"too early", &escrow.TooEarlyError{Op: "claim_payment"}, http.StatusBadRequest},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reg := &stubRegistry{err: tc.err}
			server := newServer(&stubAuth{}, reg, &stubReader{}, nil, nil, nil, nil)

			req := authedRequest(http.MethodPost, "/api/escrows/esc-1/verify", "", "client-1", auth.RoleClient)
			req.SetPathValue("id", "esc-1")
			rec := httptest.NewRecorder()

			server.lifecycle(registry.EventVerified)(rec, req)

			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestLifecycleRouting(t *testing.T) {
	reg := &stubRegistry{}
	reader := &stubReader{escrow: &escrow.Escrow{ID: "esc-1", Status: escrow.StatusWorkDelivered}}
	server := newServer(&stubAuth{}, reg, reader, nil, nil, nil, nil)

	events := map[string]string{
		registry.EventDelivered: "delivered:esc-1",
		registry.EventVerified:  "verify:esc-1",
		registry.EventRejected:  "reject:esc-1",
		registry.EventReleased:  "release:esc-1",
		registry.EventClaimed:   "claim:esc-1",
		registry.EventReclaimed: "reclaim:esc-1",
		registry.EventClosed:    "close:esc-1",
		registry.EventTimedOut:  "time_out:esc-1",
	}

	for event, want := range events {
		reg.calls = nil
		req := authedRequest(http.MethodPost, "/api/escrows/esc-1/op", "", "client-1", auth.RoleClient)
		req.SetPathValue("id", "esc-1")
		rec := httptest.NewRecorder()

		server.lifecycle(event)(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", event, rec.Code)
		}
		if len(reg.calls) != 1 || reg.calls[0] != want {
			t.Fatalf("%s: expected call %q, got %v", event, want, reg.calls)
		}
	}
}

func TestHandleGetEscrow_FullSnapshot(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reader := &stubReader{escrow: &escrow.Escrow{
		ID:         "esc-1",
		Client:     "client-1",
		Freelancer: "freelancer-1",
		Title:      "Logo design",
		Duration:   24 * time.Hour,
		Fund:       100,
		HighestBid: 30,
		Status:     escrow.StatusAuctionCompleted,
		StartedAt:  now,
		Deadline:   now.Add(24 * time.Hour),
		Auction: &escrow.Auction{
			MinBid:    10,
			StartedAt: now.Add(-time.Hour),
			EndAt:     now,
			Bids: []escrow.Bid{
				{Participant: "freelancer-1", Amount: 30},
			},
		},
	}}
	server := newServer(&stubAuth{}, nil, reader, nil, nil, nil, nil)

	req := authedRequest(http.MethodGet, "/api/escrows/esc-1", "", "client-1", auth.RoleClient)
	req.SetPathValue("id", "esc-1")
	rec := httptest.NewRecorder()

	server.handleGetEscrow(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp escrowResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Freelancer != "freelancer-1" || resp.Fund != 100 || resp.HighestBid != 30 {
		t.Fatalf("unexpected snapshot: %+v", resp)
	}
	if resp.Auction == nil || len(resp.Auction.Bids) != 1 || resp.Auction.Bids[0].Amount != 30 {
		t.Fatalf("unexpected auction payload: %+v", resp.Auction)
	}
	if resp.Deadline != now.Add(24*time.Hour).Format(time.RFC3339) {
		t.Fatalf("unexpected deadline: %s", resp.Deadline)
	}
}

func TestHandleRule_RequiresArbitratorRole(t *testing.T) {
	server := newServer(&stubAuth{}, nil, nil, &stubArbitration{}, nil, nil, nil)

	req := authedRequest(http.MethodPost, "/api/disputes/1/rule", `{"ruling":1}`, "client-1", auth.RoleClient)
	req.SetPathValue("id", "1")
	rec := httptest.NewRecorder()

	server.handleRule(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleRule_Success(t *testing.T) {
	ruling := int16(1)
	ruledAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	arb := &stubArbitration{record: arbitrator.Record{
		ID:       1,
		EscrowID: "esc-1",
		Choices:  2,
		Status:   arbitrator.StatusRuled,
		Ruling:   &ruling,
		RuledAt:  &ruledAt,
	}}
	server := newServer(&stubAuth{}, nil, nil, arb, nil, nil, nil)

	req := authedRequest(http.MethodPost, "/api/disputes/1/rule", `{"ruling":1}`, "arb-1", auth.RoleArbitrator)
	req.SetPathValue("id", "1")
	rec := httptest.NewRecorder()

	server.handleRule(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp disputeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != string(arbitrator.StatusRuled) || resp.Ruling == nil || *resp.Ruling != 1 {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestHandleRule_AlreadyRuled(t *testing.T) {
	server := newServer(&stubAuth{}, nil, nil, &stubArbitration{err: arbitrator.ErrAlreadyRuled}, nil, nil, nil)

	req := authedRequest(http.MethodPost, "/api/disputes/1/rule", `{"ruling":2}`, "arb-1", auth.RoleArbitrator)
	req.SetPathValue("id", "1")
	rec := httptest.NewRecorder()

	server.handleRule(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandleTopUp(t *testing.T) {
	accounts := &stubAccounts{}
	server := newServer(&stubAuth{}, nil, nil, nil, nil, accounts, nil)

	req := authedRequest(http.MethodPost, "/api/accounts/topup", `{"amount":50}`, "client-1", auth.RoleClient)
	rec := httptest.NewRecorder()

	server.handleTopUp(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if accounts.deposits != 50 {
		t.Fatalf("expected deposit of 50, got %d", accounts.deposits)
	}

	req = authedRequest(http.MethodPost, "/api/accounts/topup", `{"amount":0}`, "client-1", auth.RoleClient)
	rec = httptest.NewRecorder()
	server.handleTopUp(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero amount, got %d", rec.Code)
	}
}
