// Package api exposes the dispatch engine over HTTP. Routing follows chi
// conventions; business race outcomes map to typed status codes so clients
// can distinguish "somebody beat you to it" from real failures.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"vetdispatch/core/dispatch"
	"vetdispatch/core/logger"
	"vetdispatch/core/model"
	"vetdispatch/core/patient"
	"vetdispatch/core/stats"
)

// Handler bundles the services the HTTP layer fronts.
type Handler struct {
	engine *dispatch.Engine
	ledger *patient.Ledger
	stats  *stats.Service
	log    logger.Logger
}

// NewHandler creates a Handler.
func NewHandler(engine *dispatch.Engine, ledger *patient.Ledger, statsSvc *stats.Service, log logger.Logger) *Handler {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Handler{engine: engine, ledger: ledger, stats: statsSvc, log: log}
}

// Router builds the chi router with all routes registered.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/requests", func(rr chi.Router) {
		rr.Post("/", h.createRequest)
		rr.Get("/{requestID}", h.getRequest)
		rr.Get("/{requestID}/notifications", h.listNotifications)
		rr.Post("/{requestID}/respond", h.respond)
	})

	r.Route("/vets/{vetID}", func(vr chi.Router) {
		vr.Get("/requests", h.pendingForVet)
		vr.Get("/patients", h.patientsForVet)
		vr.Get("/stats", h.statsForVet)
	})

	r.Route("/patients/{patientID}", func(pr chi.Router) {
		pr.Get("/", h.getPatient)
		pr.Post("/complete", h.completePatient)
		pr.Post("/notes", h.addNote)
		pr.Post("/follow-up", h.scheduleFollowUp)
	})

	return r
}

type createRequestBody struct {
	ReportID    string   `json:"report_id"`
	AnimalID    string   `json:"animal_id"`
	OwnerID     string   `json:"owner_id"`
	Symptoms    string   `json:"symptoms"`
	Severity    string   `json:"severity"`
	IsEmergency bool     `json:"is_emergency"`
	Predictions []string `json:"predictions"`
	Lat         float64  `json:"lat"`
	Lon         float64  `json:"lon"`
	Address     string   `json:"address"`
}

func (h *Handler) createRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(body.AnimalID) == "" || strings.TrimSpace(body.OwnerID) == "" {
		writeError(w, http.StatusBadRequest, "animal_id and owner_id are required")
		return
	}
	sev, ok := model.ParseSeverity(body.Severity)
	if !ok && body.Severity != "" {
		writeError(w, http.StatusBadRequest, "severity must be mild, moderate or severe")
		return
	}

	report := model.SymptomReport{
		ID:          body.ReportID,
		AnimalID:    body.AnimalID,
		OwnerID:     body.OwnerID,
		Symptoms:    body.Symptoms,
		Severity:    sev,
		IsEmergency: body.IsEmergency,
		Predictions: body.Predictions,
		Location:    model.Location{Lat: body.Lat, Lon: body.Lon, Address: body.Address},
		Status:      model.ReportSubmitted,
		CreatedAt:   time.Now(),
	}
	req, err := h.engine.CreateRequest(r.Context(), report)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *Handler) getRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.engine.Get(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	recs, err := h.engine.Notifications(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

type respondBody struct {
	VetID   string `json:"vet_id"`
	Action  string `json:"action"`
	Message string `json:"message"`
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")
	var body respondBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(body.VetID) == "" {
		writeError(w, http.StatusBadRequest, "vet_id is required")
		return
	}
	action, ok := model.ParseResponseAction(body.Action)
	if !ok {
		writeError(w, http.StatusBadRequest, "action must be accept, decline or request_info")
		return
	}

	switch action {
	case model.ActionAccept:
		pat, err := h.engine.Accept(r.Context(), requestID, body.VetID, body.Message)
		if err != nil {
			h.writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "accepted", "patient": pat})
	case model.ActionDecline:
		if err := h.engine.Decline(r.Context(), requestID, body.VetID, body.Message); err != nil {
			h.writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "declined"})
	case model.ActionRequestInfo:
		if err := h.engine.RequestInfo(r.Context(), requestID, body.VetID, body.Message); err != nil {
			h.writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "info_requested"})
	}
}

func (h *Handler) pendingForVet(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.engine.PendingForVet(r.Context(), chi.URLParam(r, "vetID"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if reqs == nil {
		reqs = []model.DispatchRequest{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (h *Handler) patientsForVet(w http.ResponseWriter, r *http.Request) {
	pats, err := h.ledger.ListByVet(r.Context(), chi.URLParam(r, "vetID"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if pats == nil {
		pats = []model.PatientRecord{}
	}
	writeJSON(w, http.StatusOK, pats)
}

func (h *Handler) statsForVet(w http.ResponseWriter, r *http.Request) {
	sum, err := h.stats.Summarize(r.Context(), chi.URLParam(r, "vetID"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *Handler) getPatient(w http.ResponseWriter, r *http.Request) {
	pat, err := h.ledger.Get(r.Context(), chi.URLParam(r, "patientID"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pat)
}

func (h *Handler) completePatient(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.Complete(r.Context(), chi.URLParam(r, "patientID")); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "completed"})
}

type noteBody struct {
	Note string `json:"note"`
}

func (h *Handler) addNote(w http.ResponseWriter, r *http.Request) {
	var body noteBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(body.Note) == "" {
		writeError(w, http.StatusBadRequest, "note is required")
		return
	}
	if err := h.ledger.AddNote(r.Context(), chi.URLParam(r, "patientID"), body.Note); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "noted"})
}

type followUpBody struct {
	Type string `json:"type"`
	Due  string `json:"due"` // RFC 3339
}

func (h *Handler) scheduleFollowUp(w http.ResponseWriter, r *http.Request) {
	var body followUpBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	due, err := time.Parse(time.RFC3339, body.Due)
	if err != nil {
		writeError(w, http.StatusBadRequest, "due must be RFC 3339")
		return
	}
	var typ model.FollowUpType
	switch model.FollowUpType(body.Type) {
	case model.FollowUpCheckup, model.FollowUpTreatment, model.FollowUpVaccination:
		typ = model.FollowUpType(body.Type)
	default:
		writeError(w, http.StatusBadRequest, "type must be checkup, treatment or vaccination")
		return
	}
	fu, err := h.ledger.ScheduleFollowUp(r.Context(), chi.URLParam(r, "patientID"), due, typ)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, fu)
}

// writeEngineError maps the dispatch error taxonomy to HTTP statuses. Losing
// the accept race is a conflict; responding to a finished request is "gone";
// declining a case you were never offered is forbidden.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dispatch.ErrAlreadyAssigned):
		writeError(w, http.StatusConflict, "request already assigned to another veterinarian")
	case errors.Is(err, dispatch.ErrRequestExpired):
		writeError(w, http.StatusGone, "request has expired")
	case errors.Is(err, dispatch.ErrRequestNotPending), errors.Is(err, dispatch.ErrInvalidTransition):
		writeError(w, http.StatusGone, "request is no longer pending")
	case errors.Is(err, dispatch.ErrNotNotified):
		writeError(w, http.StatusForbidden, "veterinarian was not notified about this request")
	case errors.Is(err, dispatch.ErrNotFound), errors.Is(err, patient.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, patient.ErrNotActive):
		writeError(w, http.StatusConflict, "patient record is not active")
	case strings.Contains(err.Error(), "location"):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Errorf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
