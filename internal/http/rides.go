package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/example/carpool/internal/models"
)

// rideID parses the {ride_id} path variable, answering 422 on garbage.
func rideID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["ride_id"], 10, 64)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "ride_id must be an integer")
		return 0, false
	}
	return id, true
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	var req createRideRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.RideDateAndTime.IsZero() {
		writeDetail(w, http.StatusUnprocessableEntity, "rideDateAndTime failed required")
		return
	}
	ride, err := s.Rides.CreateRide(r.Context(), mux.Vars(r)["alias"], req.RideDateAndTime.Time, req.FinalAddress, req.AllowedSpaces)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	driver, err := s.Users.LookupByID(r.Context(), ride.DriverID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.RideDetail{Ride: ride, Driver: driver, Participants: []models.ParticipationView{}})
}

func (s *Server) handleListOpenRides(w http.ResponseWriter, r *http.Request) {
	skip, limit, ok := s.page(w, r)
	if !ok {
		return
	}
	rides, err := s.Rides.ListOpenRides(r.Context(), skip, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rides)
}

// handleSeatBoard serves the open rides with the most free seats, as
// projected from lifecycle events.
func (s *Server) handleSeatBoard(w http.ResponseWriter, r *http.Request) {
	_, limit, ok := s.page(w, r)
	if !ok {
		return
	}
	if s.Board == nil {
		writeDetail(w, http.StatusServiceUnavailable, "seat board not configured")
		return
	}
	entries, err := s.Board.MostSeats(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleListDriverRides(w http.ResponseWriter, r *http.Request) {
	rides, err := s.Rides.ListRidesForDriver(r.Context(), mux.Vars(r)["alias"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rides)
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	id, ok := rideID(w, r)
	if !ok {
		return
	}
	ride, err := s.Rides.GetRide(r.Context(), mux.Vars(r)["alias"], id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleRequestToJoin(w http.ResponseWriter, r *http.Request) {
	id, ok := rideID(w, r)
	if !ok {
		return
	}
	var req joinRequest
	if !s.decode(w, r, &req) {
		return
	}
	vars := mux.Vars(r)
	p, err := s.Rides.RequestToJoin(r.Context(), vars["alias"], id, vars["participant_alias"], req.Destination, req.OccupiedSpaces)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	id, ok := rideID(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	p, err := s.Rides.AcceptRequest(r.Context(), vars["alias"], id, vars["participant_alias"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, participationResponse{Message: "Ride request accepted", Participation: p})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	id, ok := rideID(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	p, err := s.Rides.RejectRequest(r.Context(), vars["alias"], id, vars["participant_alias"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, participationResponse{Message: "Ride request rejected", Participation: p})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id, ok := rideID(w, r)
	if !ok {
		return
	}
	ride, err := s.Rides.StartRide(r.Context(), mux.Vars(r)["alias"], id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rideResponse{Message: "Ride started", Ride: ride})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	id, ok := rideID(w, r)
	if !ok {
		return
	}
	ride, err := s.Rides.EndRide(r.Context(), mux.Vars(r)["alias"], id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rideResponse{Message: "Ride ended", Ride: ride})
}

// handleUnload is addressed by the participant's alias, not the driver's.
func (s *Server) handleUnload(w http.ResponseWriter, r *http.Request) {
	id, ok := rideID(w, r)
	if !ok {
		return
	}
	p, err := s.Rides.UnloadParticipant(r.Context(), mux.Vars(r)["alias"], id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, participationResponse{Message: "Participant unloaded", Participation: p})
}
