package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/carpool/internal/engine"
	"github.com/example/carpool/internal/lifecycle"
	"github.com/example/carpool/internal/models"
	"github.com/example/carpool/internal/notify"
)

// Server exposes the booking operations over HTTP. Authentication is an
// upstream concern; the actor id arrives in the X-User-ID header and the
// engine enforces the driver/passenger role checks.
type Server struct {
	Engine    *engine.Engine
	Lifecycle *lifecycle.Controller
	WSReg     *notify.WSRegistry

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(eng *engine.Engine, lc *lifecycle.Controller, wsreg *notify.WSRegistry, logger *slog.Logger) *Server {
	s := &Server{Engine: eng, Lifecycle: lc, WSReg: wsreg, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/rides", s.handleCreateRide).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}", s.handleGetRide).Methods("GET")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/requests", s.handleSubmitRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/start", s.handleStartRide).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/finish", s.handleFinishRide).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/cancel", s.handleCancelRide).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests/{request_id}/accept", s.handleAcceptRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests/{request_id}/cancel", s.handleCancelRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests/{request_id}/checkin", s.handleCheckIn).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests/{request_id}/checkout", s.handleCheckOut).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{user_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func actorID(r *http.Request) string { return r.Header.Get("X-User-ID") }

func rideID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["ride_id"], 10, 64)
}

type createRideBody struct {
	OriginAddress      string            `json:"origin_address"`
	DestinationAddress string            `json:"destination_address"`
	Waypoints          []models.Waypoint `json:"waypoints"`
	ScheduledAt        time.Time         `json:"scheduled_at"`
	IsRecurring        bool              `json:"is_recurring"`
	RecurringDays      []time.Weekday    `json:"recurring_days"`
	TotalSeats         int               `json:"total_seats"`
	RequiredGender     models.Gender     `json:"required_gender"`
	PricePerSeat       int64             `json:"price_per_seat"`
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	var body createRideBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ride, err := s.Lifecycle.CreateRide(r.Context(), lifecycle.CreateRideSpec{
		DriverID:           actorID(r),
		OriginAddress:      body.OriginAddress,
		DestinationAddress: body.DestinationAddress,
		Waypoints:          body.Waypoints,
		ScheduledAt:        body.ScheduledAt,
		IsRecurring:        body.IsRecurring,
		RecurringDays:      body.RecurringDays,
		TotalSeats:         body.TotalSeats,
		RequiredGender:     body.RequiredGender,
		PricePerSeat:       body.PricePerSeat,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	id, err := rideID(r)
	if err != nil {
		http.Error(w, "bad ride id", http.StatusBadRequest)
		return
	}
	ride, err := s.Engine.Rides.GetRide(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

type submitRequestBody struct {
	Seats    int              `json:"seats"`
	Waypoint *models.Waypoint `json:"waypoint,omitempty"`
}

func (s *Server) handleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	id, err := rideID(r)
	if err != nil {
		http.Error(w, "bad ride id", http.StatusBadRequest)
		return
	}
	var body submitRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req, err := s.Engine.SubmitRequest(r.Context(), id, actorID(r), body.Seats, body.Waypoint)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleAcceptRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.Engine.AcceptRequest(r.Context(), mux.Vars(r)["request_id"], actorID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.Engine.CancelOrReject(r.Context(), mux.Vars(r)["request_id"], actorID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	req, err := s.Engine.CheckIn(r.Context(), mux.Vars(r)["request_id"], actorID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleCheckOut(w http.ResponseWriter, r *http.Request) {
	req, err := s.Engine.CheckOut(r.Context(), mux.Vars(r)["request_id"], actorID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleStartRide(w http.ResponseWriter, r *http.Request) {
	id, err := rideID(r)
	if err != nil {
		http.Error(w, "bad ride id", http.StatusBadRequest)
		return
	}
	ride, err := s.Lifecycle.StartRide(r.Context(), id, actorID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

type finishRideBody struct {
	Regenerate bool `json:"regenerate"`
}

func (s *Server) handleFinishRide(w http.ResponseWriter, r *http.Request) {
	id, err := rideID(r)
	if err != nil {
		http.Error(w, "bad ride id", http.StatusBadRequest)
		return
	}
	var body finishRideBody
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	res, err := s.Lifecycle.FinishRide(r.Context(), id, actorID(r), body.Regenerate)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := map[string]any{"ride": res.Ride}
	if res.NextRide != nil {
		out["next_ride"] = res.NextRide
	}
	if res.RegenerationErr != nil {
		out["regeneration_failed"] = true
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request) {
	id, err := rideID(r)
	if err != nil {
		http.Error(w, "bad ride id", http.StatusBadRequest)
		return
	}
	ride, err := s.Lifecycle.CancelRide(r.Context(), id, actorID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["user_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.WSReg.Attach(id, conn)
}

// writeError maps the booking error taxonomy onto HTTP statuses.
// ErrVersionConflict never reaches here: the engine retries it internally
// and surfaces ErrBusy once retries run out.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, models.ErrRideNotBookable),
		errors.Is(err, models.ErrDuplicateRequest),
		errors.Is(err, models.ErrInsufficientCapacity),
		errors.Is(err, models.ErrScheduleConflict):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrEligibilityDenied),
		errors.Is(err, models.ErrNotRideDriver),
		errors.Is(err, models.ErrNotRequestPassenger):
		status = http.StatusForbidden
	case errors.Is(err, models.ErrBusy):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
