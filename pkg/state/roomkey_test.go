package state

import "testing"

func TestRoomKeyRoundTrip(t *testing.T) {
	key := OrderRoom("order-42")
	if key.String() != "order:order-42" {
		t.Fatalf("String() = %q", key.String())
	}
	parsed, err := ParseRoomKey(key.String())
	if err != nil {
		t.Fatalf("ParseRoomKey failed: %v", err)
	}
	if parsed != key {
		t.Errorf("ParseRoomKey = %+v, want %+v", parsed, key)
	}
}

func TestParseRoomKeyRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "order", "order:", ":42"} {
		if _, err := ParseRoomKey(s); err == nil {
			t.Errorf("ParseRoomKey(%q) expected error", s)
		}
	}
}

func TestIdentityAllows(t *testing.T) {
	courier := Identity{
		UserID:      "courier-1",
		Permissions: PermJoin | PermPublishLocation,
		Orders:      map[string]struct{}{"42": {}},
	}
	if !courier.Allows("42", PermPublishLocation) {
		t.Error("courier should publish location for an assigned order")
	}
	if courier.Allows("43", PermPublishLocation) {
		t.Error("courier must not publish for an order outside its scope")
	}
	if courier.Allows("42", PermPublishStatus) {
		t.Error("courier lacks publish_status")
	}

	system := Identity{UserID: "dispatch", Permissions: PermPublishStatus, Global: true}
	if !system.Allows("anything", PermPublishStatus) {
		t.Error("global identity should not be bound to an order scope")
	}
}

func TestRoomKeyIsZero(t *testing.T) {
	if !OrderRoom("").IsZero() {
		t.Error("order room without an id should be zero")
	}
	if !(RoomKey{ID: "42"}).IsZero() {
		t.Error("key without a kind should be zero")
	}
	if OrderRoom("42").IsZero() {
		t.Error("order:42 should not be zero")
	}
}
