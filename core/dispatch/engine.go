package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"vetdispatch/core/events"
	"vetdispatch/core/geo"
	"vetdispatch/core/logger"
	"vetdispatch/core/metrics"
	"vetdispatch/core/model"
	"vetdispatch/core/notify"
	"vetdispatch/core/patient"
	"vetdispatch/core/policy"
	"vetdispatch/internal/eventbus"
)

// Engine orchestrates the dispatch lifecycle: candidate matching, fan-out,
// race-safe assignment, escalation and expiry. It is stateless between
// calls; the Store holds the single source of truth.
type Engine struct {
	store   Store
	matcher *geo.Matcher
	gateway notify.Gateway
	ledger  *patient.Ledger
	bus     *eventbus.Bus
	sink    metrics.Sink
	log     logger.Logger
	cfg     Config
	now     func() time.Time
}

// NewEngine creates an Engine. store, matcher, gateway and ledger are
// required; sink, bus and log may be nil.
func NewEngine(store Store, matcher *geo.Matcher, gateway notify.Gateway, ledger *patient.Ledger, cfg Config, sink metrics.Sink, bus *eventbus.Bus, log logger.Logger) (*Engine, error) {
	if store == nil || matcher == nil || gateway == nil || ledger == nil {
		return nil, fmt.Errorf("dispatch: nil parameter provided to NewEngine")
	}
	cfg.SetDefaults()
	if sink == nil {
		sink = metrics.NopSink{}
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Engine{
		store:   store,
		matcher: matcher,
		gateway: gateway,
		ledger:  ledger,
		bus:     bus,
		sink:    sink,
		log:     log,
		cfg:     cfg,
		now:     time.Now,
	}, nil
}

// radiusForTier doubles the initial radius per escalation tier, capped at
// the configured maximum.
func (e *Engine) radiusForTier(tier int) float64 {
	r := e.cfg.InitialRadiusKm
	for i := 0; i < tier; i++ {
		r *= 2
	}
	if r > e.cfg.MaxRadiusKm {
		r = e.cfg.MaxRadiusKm
	}
	return r
}

// CreateRequest derives the priority and expiry for a symptom report,
// matches eligible veterinarians and fans out the notifications. If nobody
// is in range at the initial radius the search widens one tier immediately
// rather than leaving an orphaned request. Matcher and gateway failures
// degrade to fewer veterinarians notified; the request itself is always
// created.
func (e *Engine) CreateRequest(ctx context.Context, report model.SymptomReport) (model.DispatchRequest, error) {
	if err := report.Location.Validate(); err != nil {
		return model.DispatchRequest{}, fmt.Errorf("report location: %w", err)
	}
	prio := model.PriorityFor(report)
	exp := policy.Resolve(prio)
	now := e.now()
	req := model.DispatchRequest{
		ID:        uuid.NewString(),
		ReportID:  report.ID,
		AnimalID:  report.AnimalID,
		OwnerID:   report.OwnerID,
		Priority:  prio,
		Location:  report.Location,
		Status:    model.StatusPending,
		RadiusKm:  e.cfg.InitialRadiusKm,
		CreatedAt: now,
		ExpiresAt: now.Add(exp.TTL),
	}

	cands := e.findCandidates(ctx, req.Location, req.RadiusKm, prio, nil)
	if len(cands) == 0 && e.cfg.MaxEscalations > 0 {
		req.EscalationTier = 1
		req.RadiusKm = e.radiusForTier(1)
		cands = e.findCandidates(ctx, req.Location, req.RadiusKm, prio, nil)
		escalations.WithLabelValues("1").Inc()
		e.log.Infof("request %s: nobody within %.0f km, widened to %.0f km", req.ID, e.cfg.InitialRadiusKm, req.RadiusKm)
	}
	for _, c := range cands {
		req.Notified = append(req.Notified, c.VetID)
	}

	if err := e.store.CreateRequest(ctx, req); err != nil {
		return model.DispatchRequest{}, fmt.Errorf("create request: %w", err)
	}

	// Fan-out only after the row is durably committed so a slow gateway
	// never blocks the accept/decline race.
	e.fanOut(ctx, req, cands, exp.Channels)

	requestsCreated.WithLabelValues(prio.String()).Inc()
	e.publish(events.RequestCreated{RequestID: req.ID, Priority: prio, Notified: len(req.Notified), RadiusKm: req.RadiusKm})
	e.recordOutcome(req, "created")
	e.log.Infof("request %s created (%s): %d veterinarians notified within %.0f km", req.ID, prio, len(req.Notified), req.RadiusKm)
	return req, nil
}

// findCandidates wraps the matcher, degrading directory failures to an
// empty candidate set.
func (e *Engine) findCandidates(ctx context.Context, loc model.Location, radiusKm float64, prio model.Priority, exclude map[string]bool) []geo.Candidate {
	cands, err := e.matcher.FindEligible(ctx, loc, radiusKm, prio == model.PriorityEmergency, exclude)
	if err != nil {
		e.log.Errorf("veterinarian matching failed: %v", err)
		return nil
	}
	return cands
}

// fanOut creates one NotificationRecord per candidate and delivers the
// notices concurrently. Gateway errors are logged and counted, never
// propagated.
func (e *Engine) fanOut(ctx context.Context, req model.DispatchRequest, cands []geo.Candidate, channels []model.Channel) {
	if len(cands) == 0 {
		return
	}
	lats := make([]metrics.FanOutLatency, len(cands))
	var wg sync.WaitGroup
	for i, c := range cands {
		rec := model.NotificationRecord{
			ID:         uuid.NewString(),
			RequestID:  req.ID,
			VetID:      c.VetID,
			Channels:   channels,
			DistanceKm: c.DistanceKm,
			Status:     model.DeliverySent,
			SentAt:     e.now(),
		}
		if err := e.store.CreateNotification(ctx, rec); err != nil {
			e.log.Errorf("notification record for vet %s: %v", c.VetID, err)
		}
		wg.Add(1)
		go func(i int, c geo.Candidate) {
			defer wg.Done()
			start := time.Now()
			res, err := e.gateway.Send(ctx, notify.Notice{
				ID:          uuid.NewString(),
				Kind:        notify.KindCaseAvailable,
				RequestID:   req.ID,
				RecipientID: c.VetID,
				Vet:         true,
				Channels:    channels,
				Priority:    req.Priority,
				DistanceKm:  c.DistanceKm,
				Body:        fmt.Sprintf("A %s case was reported %.1f km from your location.", req.Priority, c.DistanceKm),
				SentAt:      start,
			})
			dur := time.Since(start)
			delivered := err == nil && res.Accepted
			fanOutSent.WithLabelValues(req.Priority.String()).Inc()
			fanOutLatency.WithLabelValues(req.Priority.String()).Observe(dur.Seconds())
			if err != nil {
				fanOutFailures.WithLabelValues(req.Priority.String()).Inc()
				e.log.Warnf("fan-out to vet %s failed: %v", c.VetID, err)
			} else if delivered {
				if uerr := e.store.UpdateNotificationStatus(ctx, req.ID, c.VetID, model.DeliveryDelivered, e.now()); uerr != nil {
					e.log.Errorf("notification status for vet %s: %v", c.VetID, uerr)
				}
			}
			lats[i] = metrics.FanOutLatency{RequestID: req.ID, VetID: c.VetID, Priority: req.Priority, Delivered: delivered, Latency: dur}
			e.publish(events.VetNotified{RequestID: req.ID, VetID: c.VetID, DistanceKm: c.DistanceKm, Channels: channels, Err: err})
		}(i, c)
	}
	wg.Wait()
	if lr, ok := e.sink.(metrics.LatencyRecorder); ok {
		if err := lr.RecordFanOutLatency(lats); err != nil {
			e.log.Errorf("latency metrics error: %v", err)
		}
	}
}

// Accept resolves the assignment race. The store performs a single
// conditional transition; exactly one caller system-wide can win it. The
// winner gets the patient record, every other caller gets a typed error
// describing why the request was no longer available.
func (e *Engine) Accept(ctx context.Context, requestID, vetID, message string) (model.PatientRecord, error) {
	now := e.now()
	req, won, err := e.store.TryAssign(ctx, requestID, vetID, now)
	if err != nil {
		return model.PatientRecord{}, err
	}
	if !won {
		switch req.Status {
		case model.StatusAccepted:
			acceptRaceLost.Inc()
			return model.PatientRecord{}, ErrAlreadyAssigned
		case model.StatusExpired:
			return model.PatientRecord{}, ErrRequestExpired
		default:
			return model.PatientRecord{}, ErrRequestNotPending
		}
	}
	acceptWins.Inc()

	resp := model.VeterinarianResponse{
		ID:        uuid.NewString(),
		RequestID: requestID,
		VetID:     vetID,
		Action:    model.ActionAccept,
		Message:   message,
		Latency:   e.responseLatency(ctx, requestID, vetID, now),
		CreatedAt: now,
	}
	if err := e.store.AppendResponse(ctx, resp); err != nil {
		e.log.Errorf("append response: %v", err)
	}
	if err := e.store.UpdateNotificationStatus(ctx, requestID, vetID, model.DeliveryResponded, now); err != nil && !errors.Is(err, ErrNotFound) {
		e.log.Errorf("notification status: %v", err)
	}

	pat, err := e.ledger.Attach(ctx, vetID, req.AnimalID, req.OwnerID, requestID)
	if err != nil {
		return model.PatientRecord{}, err
	}

	go e.announceAssignment(req, vetID)

	e.publish(events.ResponseReceived{RequestID: requestID, VetID: vetID, Action: model.ActionAccept, Latency: resp.Latency})
	e.publish(events.RequestAccepted{RequestID: requestID, VetID: vetID, PatientID: pat.ID})
	e.recordOutcome(req, "accepted")
	e.log.Infof("request %s accepted by vet %s", requestID, vetID)
	return pat, nil
}

// announceAssignment tells the owner the case was taken and the losing
// veterinarians that it is gone. Runs detached from the accepting call.
func (e *Engine) announceAssignment(req model.DispatchRequest, winner string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	now := e.now()
	if _, err := e.gateway.Send(ctx, notify.Notice{
		ID:          uuid.NewString(),
		Kind:        notify.KindCaseAccepted,
		RequestID:   req.ID,
		RecipientID: req.OwnerID,
		Channels:    []model.Channel{model.ChannelApp},
		Priority:    req.Priority,
		Body:        "A veterinarian accepted your consultation request.",
		SentAt:      now,
	}); err != nil {
		e.log.Warnf("owner notice for request %s: %v", req.ID, err)
	}
	for _, vetID := range req.Notified {
		if vetID == winner {
			continue
		}
		if _, err := e.gateway.Send(ctx, notify.Notice{
			ID:          uuid.NewString(),
			Kind:        notify.KindCaseTaken,
			RequestID:   req.ID,
			RecipientID: vetID,
			Vet:         true,
			Channels:    []model.Channel{model.ChannelApp},
			Priority:    req.Priority,
			Body:        "This case has been taken by another veterinarian.",
			SentAt:      now,
		}); err != nil {
			e.log.Warnf("case-taken notice to vet %s: %v", vetID, err)
		}
	}
}

// Decline records the veterinarian's refusal and escalates once all but at
// most one of the notified set have declined. Idempotent per veterinarian.
func (e *Engine) Decline(ctx context.Context, requestID, vetID, message string) error {
	now := e.now()
	req, err := e.store.AddDecline(ctx, requestID, vetID)
	if err != nil {
		return err
	}
	declinesTotal.Inc()

	resp := model.VeterinarianResponse{
		ID:        uuid.NewString(),
		RequestID: requestID,
		VetID:     vetID,
		Action:    model.ActionDecline,
		Message:   message,
		Latency:   e.responseLatency(ctx, requestID, vetID, now),
		CreatedAt: now,
	}
	if err := e.store.AppendResponse(ctx, resp); err != nil {
		e.log.Errorf("append response: %v", err)
	}
	if err := e.store.UpdateNotificationStatus(ctx, requestID, vetID, model.DeliveryResponded, now); err != nil && !errors.Is(err, ErrNotFound) {
		e.log.Errorf("notification status: %v", err)
	}
	e.publish(events.ResponseReceived{RequestID: requestID, VetID: vetID, Action: model.ActionDecline, Latency: resp.Latency})

	if req.Status == model.StatusPending && req.DeclineThresholdReached() {
		if err := e.Escalate(ctx, requestID); err != nil && !errors.Is(err, ErrInvalidTransition) {
			e.log.Errorf("escalation after decline on %s: %v", requestID, err)
		}
	}
	return nil
}

// RequestInfo records that the veterinarian wants more detail before
// deciding. It does not change the request state.
func (e *Engine) RequestInfo(ctx context.Context, requestID, vetID, message string) error {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Terminal() {
		return ErrRequestNotPending
	}
	now := e.now()
	resp := model.VeterinarianResponse{
		ID:        uuid.NewString(),
		RequestID: requestID,
		VetID:     vetID,
		Action:    model.ActionRequestInfo,
		Message:   message,
		Latency:   e.responseLatency(ctx, requestID, vetID, now),
		CreatedAt: now,
	}
	if err := e.store.AppendResponse(ctx, resp); err != nil {
		return fmt.Errorf("append response: %w", err)
	}
	if err := e.store.UpdateNotificationStatus(ctx, requestID, vetID, model.DeliveryRead, now); err != nil && !errors.Is(err, ErrNotFound) {
		e.log.Errorf("notification status: %v", err)
	}
	e.publish(events.ResponseReceived{RequestID: requestID, VetID: vetID, Action: model.ActionRequestInfo, Latency: resp.Latency})
	return nil
}

// Escalate widens the search radius one tier and notifies the newly matched
// veterinarians, excluding everyone already contacted. After the final tier
// the request simply waits for acceptance or expiry; that is not an error.
func (e *Engine) Escalate(ctx context.Context, requestID string) error {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Terminal() {
		e.log.Warnf("escalate called on terminal request %s (%s)", requestID, req.Status)
		return ErrInvalidTransition
	}
	if req.EscalationTier >= e.cfg.MaxEscalations {
		e.log.Infof("request %s exhausted all escalation tiers, awaiting response or expiry", requestID)
		return nil
	}

	tier := req.EscalationTier + 1
	radius := e.radiusForTier(tier)
	exclude := make(map[string]bool, len(req.Notified))
	for _, id := range req.Notified {
		exclude[id] = true
	}
	cands := e.findCandidates(ctx, req.Location, radius, req.Priority, exclude)
	ids := make([]string, 0, len(cands))
	for _, c := range cands {
		ids = append(ids, c.VetID)
	}

	updated, err := e.store.AppendNotified(ctx, requestID, ids, radius, tier)
	if err != nil {
		return err
	}
	e.fanOut(ctx, updated, cands, policy.Resolve(req.Priority).Channels)

	escalations.WithLabelValues(strconv.Itoa(tier)).Inc()
	e.publish(events.RequestEscalated{RequestID: requestID, Tier: tier, RadiusKm: radius, NewNotified: len(ids)})
	e.recordOutcome(updated, "escalated")
	e.log.Infof("request %s escalated to tier %d (%.0f km): %d new veterinarians", requestID, tier, radius, len(ids))
	return nil
}

// ExpireDue transitions every overdue pending request to expired and
// returns how many were affected. Idempotent and safe to run concurrently:
// the store's conditional update expires each row exactly once.
func (e *Engine) ExpireDue(ctx context.Context) (int, error) {
	ids, err := e.store.ExpireDue(ctx, e.now())
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		expirations.Inc()
		e.publish(events.RequestExpired{RequestID: id})
		e.log.Infof("request %s expired", id)
	}
	return len(ids), nil
}

// HandleDeliveryStatus applies an asynchronous delivery confirmation from
// the notification transport to the matching record.
func (e *Engine) HandleDeliveryStatus(ctx context.Context, requestID, vetID string, status model.DeliveryStatus, at time.Time) error {
	if status != model.DeliveryDelivered && status != model.DeliveryRead {
		return fmt.Errorf("dispatch: transport may not set status %q", status)
	}
	return e.store.UpdateNotificationStatus(ctx, requestID, vetID, status, at)
}

// Get returns a request by id.
func (e *Engine) Get(ctx context.Context, requestID string) (model.DispatchRequest, error) {
	return e.store.GetRequest(ctx, requestID)
}

// Notifications returns the fan-out audit trail for a request.
func (e *Engine) Notifications(ctx context.Context, requestID string) ([]model.NotificationRecord, error) {
	if _, err := e.store.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}
	return e.store.ListNotifications(ctx, requestID)
}

// PendingForVet returns the open requests a veterinarian was notified about.
func (e *Engine) PendingForVet(ctx context.Context, vetID string) ([]model.DispatchRequest, error) {
	return e.store.ListPendingForVet(ctx, vetID)
}

// responseLatency measures the time between fan-out and response using the
// notification record. Zero when the veterinarian was never notified.
func (e *Engine) responseLatency(ctx context.Context, requestID, vetID string, now time.Time) time.Duration {
	rec, err := e.store.GetNotification(ctx, requestID, vetID)
	if err != nil {
		return 0
	}
	return now.Sub(rec.SentAt)
}

func (e *Engine) publish(ev eventbus.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

func (e *Engine) recordOutcome(req model.DispatchRequest, event string) {
	out := metrics.DispatchOutcome{
		RequestID: req.ID,
		Priority:  req.Priority,
		Status:    req.Status,
		Event:     event,
		Notified:  len(req.Notified),
		Declined:  len(req.Declined),
		Tier:      req.EscalationTier,
		Time:      e.now(),
	}
	if err := e.sink.RecordOutcome(out); err != nil {
		e.log.Errorf("metrics error: %v", err)
	}
}
