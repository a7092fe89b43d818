package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/example/carpool/internal/models"
)

type registerRequest struct {
	Alias    string  `json:"alias" validate:"required,max=64"`
	Name     string  `json:"name" validate:"required,max=256"`
	CarPlate *string `json:"carPlate" validate:"omitempty,max=32"`
}

type createRideRequest struct {
	RideDateAndTime flexTime `json:"rideDateAndTime"`
	FinalAddress    string   `json:"finalAddress" validate:"required,max=512"`
	AllowedSpaces   int      `json:"allowedSpaces" validate:"gt=0"`
}

type joinRequest struct {
	Destination    string `json:"destination" validate:"required,max=512"`
	OccupiedSpaces int    `json:"occupiedSpaces" validate:"gt=0"`
}

type participationResponse struct {
	Message       string               `json:"message"`
	Participation models.Participation `json:"participation"`
}

type rideResponse struct {
	Message string      `json:"message"`
	Ride    models.Ride `json:"ride"`
}

// flexTime accepts RFC 3339 and zone-less ISO timestamps, the latter read
// as UTC.
type flexTime struct{ time.Time }

var flexLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02T15:04"}

func (t *flexTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("rideDateAndTime must be a string: %w", err)
	}
	for _, layout := range flexLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("rideDateAndTime %q is not a valid datetime", s)
}

// validationDetail flattens validator errors into one message.
func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
