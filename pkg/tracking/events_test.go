package tracking

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderID(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
		wantErr error
	}{
		{name: "bare string", payload: `"order-42"`, want: "order-42"},
		{name: "bare number", payload: `42`, want: "42"},
		{name: "object", payload: `{"orderId":"42"}`, want: "42"},
		{name: "numeric field", payload: `{"orderId":42}`, want: "42"},
		{name: "missing", payload: `{"status":"x"}`, wantErr: ErrMissingOrderID},
		{name: "blank", payload: `"  "`, wantErr: ErrMissingOrderID},
		{name: "nested object id", payload: `{"orderId":{"id":1}}`, wantErr: ErrMissingOrderID},
		{name: "empty payload", payload: ``, wantErr: ErrMissingOrderID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := OrderID(json.RawMessage(tt.payload))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLocation(t *testing.T) {
	id, loc, err := ParseLocation(json.RawMessage(`{"orderId":"1","location":{"lat":55.75,"lng":37.61}}`))
	require.NoError(t, err)
	assert.Equal(t, "1", id)
	assert.Equal(t, Location{Lat: 55.75, Lng: 37.61}, loc)

	_, loc, err = ParseLocation(json.RawMessage(`{"orderId":"1","location":{"latitude":-33.9,"longitude":151.2}}`))
	require.NoError(t, err)
	assert.Equal(t, Location{Lat: -33.9, Lng: 151.2}, loc)

	for _, bad := range []string{
		`{"orderId":"1"}`,
		`{"orderId":"1","location":"here"}`,
		`{"orderId":"1","location":{"lat":"55","lng":37}}`,
		`{"orderId":"1","location":{"lat":91,"lng":0}}`,
		`{"orderId":"1","location":{"lat":0,"lng":-181}}`,
	} {
		_, _, err := ParseLocation(json.RawMessage(bad))
		assert.ErrorIs(t, err, ErrInvalidLocation, bad)
	}

	_, _, err = ParseLocation(json.RawMessage(`{"location":{"lat":1,"lng":1}}`))
	assert.ErrorIs(t, err, ErrMissingOrderID)
}

func TestParseStatus(t *testing.T) {
	id, status, msg, err := ParseStatus(json.RawMessage(`{"orderId":"order-42","status":"picked_up","message":"Courier on the way"}`))
	require.NoError(t, err)
	assert.Equal(t, "order-42", id)
	assert.Equal(t, "picked_up", status)
	assert.Equal(t, "Courier on the way", msg)

	_, _, msg, err = ParseStatus(json.RawMessage(`{"orderId":"1","status":"delivered"}`))
	require.NoError(t, err)
	assert.Empty(t, msg)

	_, _, _, err = ParseStatus(json.RawMessage(`{"orderId":"1","message":"no status"}`))
	assert.ErrorIs(t, err, ErrMissingStatus)
}

func TestEncode(t *testing.T) {
	ts := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	data, err := Encode(EventStatusChange, StatusChange{OrderID: "1", Status: "ready", Timestamp: ts})
	require.NoError(t, err)

	var frame Frame
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, EventStatusChange, frame.Event)
	assert.JSONEq(t, `{"orderId":"1","status":"ready","message":"","timestamp":"2026-10-19T12:00:00Z"}`, string(frame.Payload))
}
