package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/carpool/internal/dispatch"
	"github.com/example/carpool/internal/lifecycle"
	"github.com/example/carpool/internal/registry"
	"github.com/example/carpool/internal/seatboard"
	"github.com/example/carpool/internal/storage"
)

type Deps struct {
	Users     *registry.Registry
	Rides     *lifecycle.Engine
	Store     storage.Store
	WSReg     *dispatch.WSRegistry
	Board     seatboard.Board
	PageLimit int
	Logger    *slog.Logger
}

type Server struct {
	Users     *registry.Registry
	Rides     *lifecycle.Engine
	Store     storage.Store
	WSReg     *dispatch.WSRegistry
	Board     seatboard.Board
	pageLimit int
	logger    *slog.Logger
	validate  *validator.Validate
	mux       *mux.Router
}

func NewServer(d Deps) *Server {
	limit := d.PageLimit
	if limit <= 0 {
		limit = 100
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Users:     d.Users,
		Rides:     d.Rides,
		Store:     d.Store,
		WSReg:     d.WSReg,
		Board:     d.Board,
		pageLimit: limit,
		logger:    logger,
		validate:  validator.New(),
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/usuarios/", s.handleRegister).Methods("POST")
	s.mux.HandleFunc("/usuarios", s.handleRegister).Methods("POST")
	s.mux.HandleFunc("/usuarios/", s.handleListUsers).Methods("GET")
	s.mux.HandleFunc("/usuarios", s.handleListUsers).Methods("GET")
	s.mux.HandleFunc("/usuarios/{alias}", s.handleGetUser).Methods("GET")

	s.mux.HandleFunc("/rides", s.handleListOpenRides).Methods("GET")
	s.mux.HandleFunc("/rides/seats", s.handleSeatBoard).Methods("GET")
	s.mux.HandleFunc("/usuarios/{alias}/rides", s.handleCreateRide).Methods("POST")
	s.mux.HandleFunc("/usuarios/{alias}/rides", s.handleListDriverRides).Methods("GET")
	s.mux.HandleFunc("/usuarios/{alias}/rides/{ride_id}", s.handleGetRide).Methods("GET")
	s.mux.HandleFunc("/usuarios/{alias}/rides/{ride_id}/requestToJoin/{participant_alias}", s.handleRequestToJoin).Methods("POST")
	s.mux.HandleFunc("/usuarios/{alias}/rides/{ride_id}/accept/{participant_alias}", s.handleAccept).Methods("POST")
	s.mux.HandleFunc("/usuarios/{alias}/rides/{ride_id}/reject/{participant_alias}", s.handleReject).Methods("POST")
	s.mux.HandleFunc("/usuarios/{alias}/rides/{ride_id}/start", s.handleStart).Methods("POST")
	s.mux.HandleFunc("/usuarios/{alias}/rides/{ride_id}/end", s.handleEnd).Methods("POST")
	s.mux.HandleFunc("/usuarios/{alias}/rides/{ride_id}/unloadParticipant", s.handleUnload).Methods("POST")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.HandleFunc("/ready", s.handleReady).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{alias}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// decode reads a JSON body into v and validates it. It writes the 422
// response itself and reports whether the handler may go on.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, validationDetail(err))
		return false
	}
	return true
}

// page reads skip/limit query parameters, defaulting to 0 and the
// configured page size.
func (s *Server) page(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	skip, limit := 0, s.pageLimit
	q := r.URL.Query()
	if v := q.Get("skip"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeDetail(w, http.StatusUnprocessableEntity, "skip must be a non-negative integer")
			return 0, 0, false
		}
		skip = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeDetail(w, http.StatusUnprocessableEntity, "limit must be a non-negative integer")
			return 0, 0, false
		}
		limit = n
	}
	return skip, limit, true
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decode(w, r, &req) {
		return
	}
	plate := ""
	if req.CarPlate != nil {
		plate = *req.CarPlate
	}
	u, err := s.Users.Register(r.Context(), req.Alias, req.Name, plate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	skip, limit, ok := s.page(w, r)
	if !ok {
		return
	}
	users, err := s.Users.List(r.Context(), skip, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.Users.LookupByAlias(r.Context(), mux.Vars(r)["alias"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Ping(r.Context()); err != nil {
		http.Error(w, "store not ready", 503)
		return
	}
	w.WriteHeader(200)
	w.Write([]byte("ready"))
}

var upgrader = websocket.Upgrader{}

// handleWS subscribes a user to the lifecycle events of rides they drive
// or ride on.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	u, err := s.Users.LookupByAlias(r.Context(), mux.Vars(r)["alias"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sess := s.WSReg.Add(u.ID, conn)
	go func() {
		defer s.WSReg.Remove(u.ID, sess)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
