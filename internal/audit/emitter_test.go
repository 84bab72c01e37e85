package audit_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"consentgate/internal/audit"
	"consentgate/internal/audit/store/memory"
	"consentgate/internal/decision"
	"consentgate/pkg/domain"
	"consentgate/pkg/platform/circuit"
)

var (
	fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	actor    = domain.Actor{ID: "researcher-1", Organization: "org-1"}
)

type EmitterSuite struct {
	suite.Suite
	sink *memory.Store
	logs *bytes.Buffer
}

func TestEmitterSuite(t *testing.T) {
	suite.Run(t, new(EmitterSuite))
}

func (s *EmitterSuite) SetupTest() {
	s.sink = memory.New()
	s.logs = &bytes.Buffer{}
}

func (s *EmitterSuite) logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(s.logs, nil))
}

func (s *EmitterSuite) TestDeliversQueuedEvents() {
	emitter := audit.NewEmitter(s.sink, audit.WithLogger(s.logger()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- emitter.Run(ctx) }()

	for i := 0; i < 5; i++ {
		emitter.Emit(ctx, accessEvent("p1"))
	}

	s.Eventually(func() bool { return s.sink.Len() == 5 }, time.Second, 5*time.Millisecond)
	cancel()
	s.NoError(<-done)
}

func (s *EmitterSuite) TestEmitNeverBlocksWhenQueueIsFull() {
	emitter := audit.NewEmitter(s.sink, audit.WithBufferSize(2), audit.WithLogger(s.logger()))

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			emitter.Emit(context.Background(), accessEvent("p1"))
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		s.FailNow("Emit blocked on a full queue")
	}
	s.Equal(2, emitter.Pending())
	s.Contains(s.logs.String(), "audit event dropped")
	s.Contains(s.logs.String(), "queue_full")

	s.Require().NoError(emitter.Close())
	s.Equal(2, s.sink.Len())
}

func (s *EmitterSuite) TestEmitDoesNotWaitForSlowSink() {
	release := make(chan struct{})
	sink := &blockingSink{release: release}
	emitter := audit.NewEmitter(sink, audit.WithBufferSize(1), audit.WithLogger(s.logger()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = emitter.Run(ctx) }()

	start := time.Now()
	for i := 0; i < 10; i++ {
		emitter.Emit(ctx, accessEvent("p1"))
	}
	s.Less(time.Since(start), 500*time.Millisecond)
	close(release)
}

func (s *EmitterSuite) TestCloseDrainsAndRejectsLateEvents() {
	emitter := audit.NewEmitter(s.sink, audit.WithLogger(s.logger()))
	emitter.Emit(context.Background(), accessEvent("p1"))
	emitter.Emit(context.Background(), accessEvent("p2"))

	s.Require().NoError(emitter.Close())
	s.Equal(2, s.sink.Len())

	emitter.Emit(context.Background(), accessEvent("p3"))
	s.Equal(2, s.sink.Len())
	s.Contains(s.logs.String(), "closed")

	s.NoError(emitter.Close(), "second close is a no-op")
}

func (s *EmitterSuite) TestCircuitOpensOnFailingSink() {
	sink := &failingSink{}
	breaker := circuit.New("audit_test",
		circuit.WithFailureThreshold(2),
		circuit.WithCooldown(time.Hour),
	)
	emitter := audit.NewEmitter(sink, audit.WithBreaker(breaker), audit.WithLogger(s.logger()))

	for i := 0; i < 5; i++ {
		emitter.Emit(context.Background(), accessEvent("p1"))
	}
	s.Require().NoError(emitter.Close())

	s.Equal(int32(2), sink.calls.Load(), "sink is not called once the circuit is open")
	s.True(breaker.IsOpen())
	s.Contains(s.logs.String(), "audit sink circuit opened")
	s.Contains(s.logs.String(), "circuit_open")
}

func TestEventConstructors(t *testing.T) {
	t.Run("access event carries the decision", func(t *testing.T) {
		d := decision.PolicyDecision{
			Decision:        decision.DecisionPartialAllow,
			PermittedFields: []string{"age"},
			Justifications:  []string{"Partial access: 1 of 3 fields allowed"},
		}
		e := audit.NewAccessEvent(fixedNow, actor, "p1", domain.PurposeResearch, "req-1", d)

		assert.Equal(t, audit.EventAccessRequested, e.Type)
		assert.Equal(t, "researcher-1", e.ActorID)
		assert.Equal(t, "org-1", e.Organization)
		assert.Equal(t, "RESEARCH", e.Purpose)
		assert.Equal(t, "PARTIAL_ALLOW", e.Decision)
		assert.Equal(t, []string{"age"}, e.PermittedFields)
		assert.Equal(t, fixedNow, e.Timestamp)
		assert.NotEqual(t, [16]byte{}, [16]byte(e.EventID))

		d.PermittedFields[0] = "ssn"
		assert.Equal(t, []string{"age"}, e.PermittedFields, "event owns its field list")
	})

	t.Run("deny event has empty, non-nil fields", func(t *testing.T) {
		e := audit.NewAccessEvent(fixedNow, actor, "p1", domain.PurposeResearch, "req-1",
			decision.PolicyDecision{Decision: decision.DecisionDeny})
		assert.NotNil(t, e.PermittedFields)
		assert.Empty(t, e.PermittedFields)
	})

	t.Run("revocation event", func(t *testing.T) {
		e := audit.NewRevocationEvent(fixedNow, actor, "p1", "", "req-2", 2)
		assert.Equal(t, audit.EventRevoked, e.Type)
		assert.Equal(t, []string{"Revoked all credentials for subject", "Credentials affected: 2"}, e.Justifications)

		e = audit.NewRevocationEvent(fixedNow, actor, "p1", domain.PurposeTreatment, "req-3", 1)
		assert.Equal(t, "TREATMENT", e.Purpose)
		assert.Equal(t, "Revoked credentials for purpose TREATMENT", e.Justifications[0])
	})

	t.Run("emergency event", func(t *testing.T) {
		e := audit.NewEmergencyEvent(fixedNow, actor, "p1", "req-4", []string{"allergies"}, "patient unconscious")
		assert.Equal(t, audit.EventEmergencyOverride, e.Type)
		assert.Equal(t, "EMERGENCY_TREATMENT", e.Purpose)
		assert.Equal(t, "ALLOW", e.Decision)
		require.NotEmpty(t, e.Justifications)
		assert.Equal(t, "Emergency override: patient unconscious", e.Justifications[0])
	})
}

func accessEvent(subjectID string) audit.Event {
	return audit.NewAccessEvent(fixedNow, actor, subjectID, domain.PurposeResearch, "req-1",
		decision.PolicyDecision{Decision: decision.DecisionAllow, PermittedFields: []string{"age"}})
}

type blockingSink struct {
	release chan struct{}
}

func (b *blockingSink) Append(ctx context.Context, _ audit.Event) error {
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil
}

type failingSink struct {
	calls atomic.Int32
}

func (f *failingSink) Append(context.Context, audit.Event) error {
	f.calls.Add(1)
	return errors.New("sink unavailable")
}
