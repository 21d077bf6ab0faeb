package attestation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/socialblocklabs/arp-agent/internal/logging"
	"github.com/socialblocklabs/arp-agent/internal/metrics"
	"github.com/socialblocklabs/arp-agent/internal/traces"
	"github.com/socialblocklabs/arp-agent/internal/validation"
)

// EventEmitter receives every successfully stored attestation.
type EventEmitter interface {
	EmitAttestation(a *Attestation)
}

// Service validates submissions and mediates all store access.
type Service struct {
	store  Store
	now    func() time.Time
	events EventEmitter
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock overrides the time source used for default timestamps.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithEvents publishes stored attestations to e.
func WithEvents(e EventEmitter) ServiceOption {
	return func(s *Service) { s.events = e }
}

// NewService creates a service over store.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate checks a submission without touching the store.
func Validate(req SubmitRequest) error {
	factorNames := make([]string, 0, len(req.Factors))
	for name := range req.Factors {
		factorNames = append(factorNames, name)
	}
	rules := []validation.Rule{
		validation.Required("address", req.Address),
		validation.NoNUL("address", req.Address),
		validation.Present("score", req.Score != nil),
		validation.NoNUL("factors", factorNames...),
	}
	if req.Explanation != nil {
		rules = append(rules, validation.NoNUL("explanation", *req.Explanation))
	}
	errs := validation.Check(rules...)
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidAttestation, errs)
	}
	return nil
}

// Put stores req as the complete record for its address, replacing any
// previous record. The timestamp defaults to the current unix second.
func (s *Service) Put(ctx context.Context, req SubmitRequest) (*Attestation, error) {
	ctx, span := traces.StartSpan(ctx, "attestation.put", traces.Address(req.Address))
	var err error
	defer func() { traces.End(span, err) }()

	if err = Validate(req); err != nil {
		metrics.AttestationUpsertsTotal.WithLabelValues(metrics.ResultInvalid).Inc()
		return nil, err
	}

	a := &Attestation{
		Address:     req.Address,
		Score:       *req.Score,
		Factors:     req.Factors,
		Explanation: req.Explanation,
	}
	if req.Timestamp != nil {
		a.Timestamp = *req.Timestamp
	} else {
		a.Timestamp = s.now().Unix()
	}
	if a.Factors == nil {
		a.Factors = Factors{}
	}

	start := time.Now()
	err = s.store.Upsert(ctx, a)
	metrics.ObserveStore("upsert", start)
	if err != nil {
		metrics.AttestationUpsertsTotal.WithLabelValues(metrics.ResultError).Inc()
		logging.L(ctx).Error("attestation upsert failed", logging.Address(a.Address), "error", err)
		return nil, err
	}
	metrics.AttestationUpsertsTotal.WithLabelValues(metrics.ResultOK).Inc()
	logging.L(ctx).Info("attestation stored", logging.Address(a.Address), "timestamp", a.Timestamp, "score", a.Score)

	if s.events != nil {
		s.events.EmitAttestation(a.Clone())
	}
	return a, nil
}

// Get returns the stored record for address, or ErrNotFound.
func (s *Service) Get(ctx context.Context, address string) (*Attestation, error) {
	ctx, span := traces.StartSpan(ctx, "attestation.get", traces.Address(address))
	var err error
	defer func() { traces.End(span, err) }()

	// Put never stores a NUL address, and PostgreSQL cannot compare one.
	if validation.HasNUL(address) {
		span.SetAttributes(traces.Found(false))
		metrics.AttestationLookupsTotal.WithLabelValues(metrics.ResultNotFound).Inc()
		return nil, ErrNotFound
	}

	start := time.Now()
	a, getErr := s.store.Get(ctx, address)
	metrics.ObserveStore("get", start)

	switch {
	case errors.Is(getErr, ErrNotFound):
		span.SetAttributes(traces.Found(false))
		metrics.AttestationLookupsTotal.WithLabelValues(metrics.ResultNotFound).Inc()
		return nil, getErr
	case getErr != nil:
		err = getErr
		metrics.AttestationLookupsTotal.WithLabelValues(metrics.ResultError).Inc()
		logging.L(ctx).Error("attestation lookup failed", logging.Address(address), "error", err)
		return nil, err
	}
	span.SetAttributes(traces.Found(true))
	metrics.AttestationLookupsTotal.WithLabelValues(metrics.ResultFound).Inc()
	return a, nil
}

// HealthCheck reports whether the store is reachable.
func (s *Service) HealthCheck(ctx context.Context) error {
	start := time.Now()
	defer metrics.ObserveStore("ping", start)
	return s.store.Ping(ctx)
}
