package models

import "fmt"

// RideStatus is the lifecycle state of a ride: ready -> inprogress -> done.
type RideStatus string

const (
	RideReady      RideStatus = "ready"
	RideInProgress RideStatus = "inprogress"
	RideDone       RideStatus = "done"
)

var rideEdges = map[RideStatus]RideStatus{
	RideReady:      RideInProgress,
	RideInProgress: RideDone,
}

func (s RideStatus) Valid() bool {
	switch s {
	case RideReady, RideInProgress, RideDone:
		return true
	}
	return false
}

func (s RideStatus) CanAdvance(to RideStatus) bool {
	next, ok := rideEdges[s]
	return ok && next == to
}

func ParseRideStatus(v string) (RideStatus, error) {
	s := RideStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown ride status %q", v)
	}
	return s, nil
}

// ParticipationStatus is the per-rider state running in parallel with the ride.
type ParticipationStatus string

const (
	ParticipationWaiting    ParticipationStatus = "waiting"
	ParticipationConfirmed  ParticipationStatus = "confirmed"
	ParticipationRejected   ParticipationStatus = "rejected"
	ParticipationInProgress ParticipationStatus = "inprogress"
	ParticipationMissing    ParticipationStatus = "missing"
	ParticipationDone       ParticipationStatus = "done"
	ParticipationNotMarked  ParticipationStatus = "notmarked"
)

// A rejected request becomes missing when the ride starts without it; that
// is the only edge leaving rejected.
var participationEdges = map[ParticipationStatus][]ParticipationStatus{
	ParticipationWaiting:    {ParticipationConfirmed, ParticipationRejected},
	ParticipationConfirmed:  {ParticipationInProgress, ParticipationMissing},
	ParticipationRejected:   {ParticipationMissing},
	ParticipationInProgress: {ParticipationDone, ParticipationNotMarked},
}

func (s ParticipationStatus) Valid() bool {
	switch s {
	case ParticipationWaiting, ParticipationConfirmed, ParticipationRejected,
		ParticipationInProgress, ParticipationMissing, ParticipationDone, ParticipationNotMarked:
		return true
	}
	return false
}

func (s ParticipationStatus) CanAdvance(to ParticipationStatus) bool {
	for _, next := range participationEdges[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Committed reports whether the seats of a participation in this state
// count against the ride's capacity.
func (s ParticipationStatus) Committed() bool {
	switch s {
	case ParticipationConfirmed, ParticipationInProgress, ParticipationDone, ParticipationNotMarked:
		return true
	}
	return false
}

func ParseParticipationStatus(v string) (ParticipationStatus, error) {
	s := ParticipationStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown participation status %q", v)
	}
	return s, nil
}
