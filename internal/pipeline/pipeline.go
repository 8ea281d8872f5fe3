package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"

	"deception-service/internal/deception"
	"deception-service/internal/fingerprint"
	"deception-service/internal/models"
	"deception-service/internal/session"
	"deception-service/internal/threatintel"
)

// lockStripes bounds the per-fingerprint mutex table. Two fingerprints on the
// same stripe serialize needlessly, which is harmless; one fingerprint on two
// stripes would corrupt the session narrative, which striping by hash prevents.
const lockStripes = 256

// benignFallback answers attempts whose handling failed internally. The
// attacker must never see an error from the deception machinery itself.
const benignFallback = "Request processed successfully."

// Attempt is one classified request entering the engine. Classification and
// DelayApplied come from upstream collaborators; the pipeline consumes both
// and computes neither.
type Attempt struct {
	IP             string
	UserAgent      string
	RawInput       string
	Classification models.Classification
	DelayApplied   float64
}

// Outcome is what the boundary returns to the attacker plus the bookkeeping
// the sinks receive.
type Outcome struct {
	Fingerprint string
	Message     string
	Stage       int
	Novel       bool
	Report      *models.ThreatReport
}

// ReportPublisher receives threat reports emitted for novel malicious
// patterns. Implementations may drop reports on transient failure; the
// pipeline logs and moves on.
type ReportPublisher interface {
	PublishReport(ctx context.Context, report *models.ThreatReport) error
}

// EventSink receives the finished record of every handled attempt.
type EventSink interface {
	RecordEvent(ctx context.Context, event *models.AttackEvent) error
}

// Pipeline wires fingerprinting, session state, deception, and threat
// intelligence into one attempt-handling path.
type Pipeline struct {
	store   *session.Store
	engine  *deception.Engine
	intel   *threatintel.Service
	logger  *zap.Logger
	reports ReportPublisher
	sinks   []EventSink

	// locks serializes whole attempts per fingerprint so an attacker
	// hammering concurrently still walks the stages one at a time.
	locks [lockStripes]sync.Mutex
}

// New assembles a pipeline. publisher may be nil and sinks may be empty;
// the core path has no external dependencies.
func New(store *session.Store, engine *deception.Engine, intel *threatintel.Service,
	publisher ReportPublisher, sinks []EventSink, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		store:   store,
		engine:  engine,
		intel:   intel,
		logger:  logger,
		reports: publisher,
		sinks:   sinks,
	}
}

func (p *Pipeline) stripe(fp string) *sync.Mutex {
	return &p.locks[murmur3.Sum64([]byte(fp))%lockStripes]
}

// runSession executes the session-mutating part of an attempt under the
// fingerprint's stripe lock. Lookup, generation, and recording are one unit:
// generation mutates the session (stage, guessed identifiers), so
// interleaving two attempts would tear the narrative.
func (p *Pipeline) runSession(fp, attackType, rawInput string) (message string, stage int, dbType string) {
	mu := p.stripe(fp)
	mu.Lock()
	defer mu.Unlock()

	sess := p.store.GetOrCreate(fp, attackType)
	message = p.engine.GenerateResponse(attackType, rawInput, sess)
	p.store.RecordAttempt(sess, rawInput, message, attackType)
	return message, sess.CurrentStage, sess.DBType
}

// Handle runs one attempt through the full deception path and returns the
// message to send back. It never returns an error: any internal failure is
// logged and answered with the benign message so nothing about the machinery
// leaks to the attacker.
func (p *Pipeline) Handle(ctx context.Context, attempt Attempt) (out Outcome) {
	fp := fingerprint.Derive(attempt.IP, attempt.UserAgent)
	out = Outcome{Fingerprint: fp, Message: benignFallback}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("attempt handling panicked",
				zap.Any("panic", r),
				zap.String("fingerprint", fp),
			)
			out = Outcome{Fingerprint: fp, Message: benignFallback}
		}
	}()

	attackType := attempt.Classification.AttackType

	message, stage, dbType := p.runSession(fp, attackType, attempt.RawInput)

	out.Message = message
	out.Stage = stage

	out.Novel = p.intel.IsNovel(attempt.RawInput, attackType)
	if out.Novel && attempt.Classification.IsMalicious {
		out.Report = p.intel.CreateReport(attempt.RawInput, attackType, attempt.IP, attempt.Classification.Confidence)
	}

	if out.Report != nil && p.reports != nil {
		if err := p.reports.PublishReport(ctx, out.Report); err != nil {
			p.logger.Warn("threat report publish failed",
				zap.Error(err),
				zap.String("fingerprint", fp),
			)
		}
	}

	event := &models.AttackEvent{
		ID:           uuid.New().String(),
		Timestamp:    time.Now().UTC(),
		Fingerprint:  fp,
		IPAddress:    attempt.IP,
		UserAgent:    attempt.UserAgent,
		RawInput:     attempt.RawInput,
		AttackType:   attackType,
		Confidence:   attempt.Classification.Confidence,
		IsMalicious:  attempt.Classification.IsMalicious,
		Stage:        stage,
		DBType:       dbType,
		Response:     message,
		DelayApplied: attempt.DelayApplied,
		Novel:        out.Novel,
	}
	for _, sink := range p.sinks {
		if sink == nil {
			continue
		}
		if err := sink.RecordEvent(ctx, event); err != nil {
			p.logger.Warn("event sink write failed",
				zap.Error(err),
				zap.String("event_id", event.ID),
			)
		}
	}

	return out
}
