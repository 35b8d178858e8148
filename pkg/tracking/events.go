// Package tracking defines the wire vocabulary of the order-tracking relay:
// inbound event names, the frames relayed to order rooms, and validation of
// publisher payloads.
package tracking

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Inbound events.
const (
	EventJoinOrder       = "join-order"
	EventCourierLocation = "courier-location"
	EventOrderStatus     = "order-status-update"
)

// Outbound events.
const (
	EventLocationUpdate = "courier-location-update"
	EventStatusChange   = "order-status-change"
	EventError          = "error"
)

var (
	ErrMissingOrderID  = errors.New("payload is missing orderId")
	ErrInvalidLocation = errors.New("payload has no valid location")
	ErrMissingStatus   = errors.New("payload is missing status")
)

// Frame is the envelope of every message on the socket, in both directions.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (l Location) Valid() bool {
	return l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180
}

// LocationUpdate is relayed to an order room as courier-location-update.
type LocationUpdate struct {
	OrderID   string    `json:"orderId"`
	Location  Location  `json:"location"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusChange is relayed to an order room as order-status-change.
type StatusChange struct {
	OrderID   string    `json:"orderId"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorPayload reports a rejected event back to its sender.
type ErrorPayload struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

// OrderID extracts the target order of a payload. join-order accepts a bare
// JSON string or number; every event accepts an object with orderId.
func OrderID(payload json.RawMessage) (string, error) {
	res := gjson.ParseBytes(payload)
	var id string
	switch res.Type {
	case gjson.String, gjson.Number:
		id = res.String()
	case gjson.JSON:
		if v := res.Get("orderId"); v.Type == gjson.String || v.Type == gjson.Number {
			id = v.String()
		}
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrMissingOrderID
	}
	return id, nil
}

// ParseLocation validates a courier-location payload. The coordinate pair may
// be spelled {lat,lng} or {latitude,longitude}.
func ParseLocation(payload json.RawMessage) (orderID string, loc Location, err error) {
	orderID, err = OrderID(payload)
	if err != nil {
		return "", Location{}, err
	}
	l := gjson.GetBytes(payload, "location")
	if !l.IsObject() {
		return "", Location{}, ErrInvalidLocation
	}
	lat, lng := l.Get("lat"), l.Get("lng")
	if !lat.Exists() && !lng.Exists() {
		lat, lng = l.Get("latitude"), l.Get("longitude")
	}
	if lat.Type != gjson.Number || lng.Type != gjson.Number {
		return "", Location{}, ErrInvalidLocation
	}
	loc = Location{Lat: lat.Float(), Lng: lng.Float()}
	if !loc.Valid() {
		return "", Location{}, fmt.Errorf("%w: (%g, %g) out of range", ErrInvalidLocation, loc.Lat, loc.Lng)
	}
	return orderID, loc, nil
}

// ParseStatus validates an order-status-update payload.
func ParseStatus(payload json.RawMessage) (orderID, status, message string, err error) {
	orderID, err = OrderID(payload)
	if err != nil {
		return "", "", "", err
	}
	status = strings.TrimSpace(gjson.GetBytes(payload, "status").String())
	if status == "" {
		return "", "", "", ErrMissingStatus
	}
	return orderID, status, gjson.GetBytes(payload, "message").String(), nil
}

// Encode marshals an outbound frame.
func Encode(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Payload: raw})
}
