package models

import "time"

type EventType string

const (
	EventRideCreated         EventType = "ride.created"
	EventJoinRequested       EventType = "participation.requested"
	EventRequestAccepted     EventType = "participation.confirmed"
	EventRequestRejected     EventType = "participation.rejected"
	EventRideStarted         EventType = "ride.started"
	EventRideEnded           EventType = "ride.ended"
	EventParticipantUnloaded EventType = "participation.unloaded"
)

// Event describes one committed lifecycle transition. CommittedSpaces is the
// ride's seat commitment after the transition. Seq is the ride's version
// after the transition; a reader that has seen a higher Seq for the ride
// must ignore the event.
type Event struct {
	ID              string              `json:"id"`
	Type            EventType           `json:"type"`
	RideID          int64               `json:"ride_id"`
	Seq             int64               `json:"seq"`
	DriverID        int64               `json:"driver_id"`
	RideStatus      RideStatus          `json:"ride_status"`
	AllowedSpaces   int                 `json:"allowed_spaces"`
	CommittedSpaces int                 `json:"committed_spaces"`
	Changes         []ParticipationMove `json:"changes,omitempty"`
	At              time.Time           `json:"at"`
}

type ParticipationMove struct {
	ParticipationID int64               `json:"participation_id"`
	ParticipantID   int64               `json:"participant_id"`
	OccupiedSpaces  int                 `json:"occupied_spaces"`
	From            ParticipationStatus `json:"from,omitempty"`
	To              ParticipationStatus `json:"to"`
}

// SeatsLeft is the capacity not yet committed.
func (e Event) SeatsLeft() int {
	left := e.AllowedSpaces - e.CommittedSpaces
	if left < 0 {
		return 0
	}
	return left
}

// Recipients lists the users affected by the event, driver first.
func (e Event) Recipients() []int64 {
	out := []int64{e.DriverID}
	for _, c := range e.Changes {
		out = append(out, c.ParticipantID)
	}
	return out
}
