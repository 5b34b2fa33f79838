package vat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bbtraining/checkout-api/internal/debounce"
)

type sessionInput struct {
	number  string
	country string
}

// Session tracks the VAT state of one checkout as the buyer types. Inputs
// are debounced and only the latest input's result is ever applied.
type Session struct {
	evaluator Evaluator
	deb       *debounce.Debouncer[sessionInput, Evaluation]

	mu        sync.Mutex
	gen       uint64
	isCompany bool
	number    string
	country   string
	state     Evaluation
}

// NewSession returns an idle session validating after delay of quiet input.
func NewSession(e Evaluator, delay time.Duration) *Session {
	s := &Session{evaluator: e, state: Evaluation{Status: StatusIdle}}
	s.deb = debounce.New(delay, func(ctx context.Context, in sessionInput) (Evaluation, error) {
		return e.Evaluate(ctx, true, in.number, in.country), nil
	})
	return s
}

// SetCompany toggles business buying. Turning it off clears the number,
// the validation status and any exemption immediately.
func (s *Session) SetCompany(ctx context.Context, on bool) <-chan Evaluation {
	s.mu.Lock()
	s.isCompany = on
	if !on {
		s.number = ""
	}
	number, country := s.number, s.country
	s.mu.Unlock()
	return s.Input(ctx, number, country)
}

// Input records the latest number and country. The returned channel yields
// the evaluation that ends up applied for this input, or is closed without a
// value when a newer input supersedes it.
func (s *Session) Input(ctx context.Context, number, country string) <-chan Evaluation {
	out := make(chan Evaluation, 1)

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.number, s.country = number, country
	isCompany := s.isCompany
	if ev, done := s.evaluator.precheck(isCompany, number, country); done {
		s.deb.Cancel()
		s.state = ev
		s.mu.Unlock()
		out <- ev
		close(out)
		return out
	}
	s.state = Evaluation{Status: StatusValidating}
	s.mu.Unlock()

	results := s.deb.Submit(ctx, sessionInput{number: number, country: country})
	go func() {
		defer close(out)
		r, ok := <-results
		if !ok || errors.Is(r.Err, debounce.ErrSuperseded) {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.gen != gen {
			return
		}
		s.state = r.Value
		out <- r.Value
	}()
	return out
}

// State returns the currently applied evaluation.
func (s *Session) State() Evaluation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Number returns the VAT number currently held by the session.
func (s *Session) Number() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.number
}
