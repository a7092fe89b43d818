package models

import "time"

type User struct {
	ID       int64  `json:"id"`
	Alias    string `json:"alias"`
	Name     string `json:"name"`
	CarPlate string `json:"carPlate,omitempty"`
}

// IsDriver reports whether the user has a vehicle plate on file.
func (u User) IsDriver() bool { return u.CarPlate != "" }

type Ride struct {
	ID            int64      `json:"id"`
	ScheduledAt   time.Time  `json:"rideDateAndTime"`
	FinalAddress  string     `json:"finalAddress"`
	AllowedSpaces int        `json:"allowedSpaces"`
	DriverID      int64      `json:"driverId"`
	Status        RideStatus `json:"status"`
	// Version counts committed changes to the ride and its participations.
	Version int64 `json:"-"`
}

// Advance moves the ride along its state machine.
func (r *Ride) Advance(to RideStatus) error {
	if !r.Status.CanAdvance(to) {
		return Fail(ErrInvalidState, "Ride cannot move from "+string(r.Status)+" to "+string(to))
	}
	r.Status = to
	return nil
}

type Participation struct {
	ID             int64               `json:"id"`
	RideID         int64               `json:"rideId"`
	ParticipantID  int64               `json:"participantId"`
	Destination    string              `json:"destination"`
	OccupiedSpaces int                 `json:"occupiedSpaces"`
	Status         ParticipationStatus `json:"status"`
	ConfirmedAt    *time.Time          `json:"confirmation,omitempty"`
}

// Advance moves the participation along its state machine.
func (p *Participation) Advance(to ParticipationStatus) error {
	if !p.Status.CanAdvance(to) {
		return Fail(ErrInvalidState, "Participation cannot move from "+string(p.Status)+" to "+string(to))
	}
	p.Status = to
	return nil
}

// ParticipationView is a participation with its rider embedded.
type ParticipationView struct {
	Participation
	Participant User `json:"participant"`
}

// RideDetail is the read model returned to callers: the ride, its driver
// and every participation on it.
type RideDetail struct {
	Ride
	Driver       User                `json:"rideDriver"`
	Participants []ParticipationView `json:"participants"`
}

// CommittedSpaces sums the seats held by participations that went through
// confirmation.
func CommittedSpaces(parts []Participation) int {
	total := 0
	for _, p := range parts {
		if p.Status.Committed() {
			total += p.OccupiedSpaces
		}
	}
	return total
}
