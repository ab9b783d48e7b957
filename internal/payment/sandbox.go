package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type sandboxPreauth struct {
	amount    int64
	captured  int64
	cancelled bool
}

type sandboxPayin struct {
	amount   int64
	refunded int64
}

// SandboxProvider is an in-memory Provider. It keeps just enough state to
// reject impossible operations and answers repeated keys with the first result.
type SandboxProvider struct {
	mu       sync.Mutex
	results  map[string]Result
	preauths map[string]*sandboxPreauth
	payins   map[string]*sandboxPayin
	calls    int

	// DeclineAccounts lists account ids whose preauthorizations are declined.
	DeclineAccounts map[string]bool
	// FailNext, when set, makes the next non-replayed call return this error.
	FailNext error
	// Deferred makes accepted operations answer StatusCreated, leaving the
	// outcome to a webhook.
	Deferred bool
}

// NewSandboxProvider returns an empty sandbox.
func NewSandboxProvider() *SandboxProvider {
	return &SandboxProvider{
		results:         make(map[string]Result),
		preauths:        make(map[string]*sandboxPreauth),
		payins:          make(map[string]*sandboxPayin),
		DeclineAccounts: make(map[string]bool),
	}
}

func (s *SandboxProvider) Name() string { return "sandbox" }

// Calls returns how many operations actually executed, replays excluded.
func (s *SandboxProvider) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// do runs op once per key. It must be called with s.mu held.
func (s *SandboxProvider) do(key string, op func() (Result, error)) (Result, error) {
	if key == "" {
		return Result{}, fmt.Errorf("sandbox: idempotency key required")
	}
	if r, ok := s.results[key]; ok {
		return r, nil
	}
	if err := s.FailNext; err != nil {
		s.FailNext = nil
		return Result{}, err
	}
	s.calls++
	r, err := op()
	if err != nil {
		return Result{}, err
	}
	s.results[key] = r
	return r, nil
}

// accepted is the status of an operation the sandbox agreed to.
func (s *SandboxProvider) accepted() Status {
	if s.Deferred {
		return StatusCreated
	}
	return StatusSucceeded
}

func newRef(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

func (s *SandboxProvider) Preauthorize(_ context.Context, req PreauthRequest) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.do(req.IdempotencyKey, func() (Result, error) {
		if req.Amount <= 0 {
			return Result{}, ErrInvalidAmount
		}
		if s.DeclineAccounts[req.AccountID] {
			return Result{Ref: newRef("pa"), Status: StatusFailed}, nil
		}
		ref := newRef("pa")
		s.preauths[ref] = &sandboxPreauth{amount: req.Amount}
		return Result{Ref: ref, Status: s.accepted()}, nil
	})
}

func (s *SandboxProvider) CancelPreauthorization(_ context.Context, key, preauthRef string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.do(key, func() (Result, error) {
		pa, ok := s.preauths[preauthRef]
		if !ok {
			return Result{}, fmt.Errorf("preauthorization %s: %w", preauthRef, ErrUnknownResource)
		}
		pa.cancelled = true
		return Result{Ref: preauthRef, Status: s.accepted()}, nil
	})
}

func (s *SandboxProvider) Capture(_ context.Context, req CaptureRequest) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.do(req.IdempotencyKey, func() (Result, error) {
		pa, ok := s.preauths[req.PreauthRef]
		if !ok {
			return Result{}, fmt.Errorf("preauthorization %s: %w", req.PreauthRef, ErrUnknownResource)
		}
		if pa.cancelled {
			return Result{}, fmt.Errorf("preauthorization %s is cancelled: %w", req.PreauthRef, ErrDeclined)
		}
		if req.Amount <= 0 || pa.captured+req.Amount > pa.amount {
			return Result{}, ErrInvalidAmount
		}
		pa.captured += req.Amount
		ref := newRef("pi")
		s.payins[ref] = &sandboxPayin{amount: req.Amount}
		return Result{Ref: ref, Status: s.accepted()}, nil
	})
}

func (s *SandboxProvider) Refund(_ context.Context, req RefundRequest) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.do(req.IdempotencyKey, func() (Result, error) {
		pi, ok := s.payins[req.PayinRef]
		if !ok {
			return Result{}, fmt.Errorf("payin %s: %w", req.PayinRef, ErrUnknownResource)
		}
		if req.Amount <= 0 || pi.refunded+req.Amount > pi.amount {
			return Result{}, ErrInvalidAmount
		}
		pi.refunded += req.Amount
		return Result{Ref: newRef("re"), Status: s.accepted()}, nil
	})
}

func (s *SandboxProvider) Payout(_ context.Context, req PayoutRequest) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.do(req.IdempotencyKey, func() (Result, error) {
		if req.Amount <= 0 {
			return Result{}, ErrInvalidAmount
		}
		if req.BankAccountID == "" {
			return Result{}, fmt.Errorf("payout without bank account: %w", ErrDeclined)
		}
		return Result{Ref: newRef("po"), Status: s.accepted()}, nil
	})
}
