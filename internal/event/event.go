// Package event defines the canonical event envelope and the factory
// that enriches a type + payload into an immutable record.
package event

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/amorlat/funnel-tracking/internal/identity"
)

// Event types emitted by the tracking façade. The vocabulary is open:
// custom events carry any type string through the same pipeline.
const (
	TypePageView           = "page_view"
	TypeCTAClick           = "cta_click"
	TypeFormSubmit         = "form_submit"
	TypeSwipe              = "swipe"
	TypeInterestToggle     = "interest_toggle"
	TypePhotoUpload        = "photo_upload"
	TypePageExit           = "page_exit"
	TypeConversion         = "conversion"
	TypeFieldFocus         = "field_focus"
	TypeFieldFilled        = "field_filled"
	TypeFormError          = "form_error"
	TypeFormAttempt        = "form_attempt"
	TypeRegistrationDone   = "registration_complete"
	TypeBioFilled          = "bio_filled"
	TypeInterestsCount     = "interests_count"
	TypeProfileView        = "profile_view"
	TypeWithdrawPopup      = "withdraw_popup"
	TypePixKeyEntered      = "pix_key_entered"
	TypePaywall            = "paywall"
	TypeCheckout           = "checkout"
	TypeGiftClaim          = "gift_claim"
	TypeChatMessage        = "chat_message"
	TypeContentScroll      = "content_scroll"
	TypePremiumMatchAction = "premium_match_action"
)

// Event is immutable once created; corrections are new events.
// Extra holds the type-specific payload and is flattened to top-level
// fields on serialization, the shape downstream dashboards expect.
type Event struct {
	ID        string
	Timestamp int64 // epoch millis
	Datetime  string
	SessionID string
	EventType string
	Page      string
	Referrer  *string
	Device    identity.DeviceInfo
	UTMs      map[string]string
	Extra     map[string]any
}

// protected fields can never be overridden by caller payloads.
var protected = map[string]bool{
	"id":         true,
	"timestamp":  true,
	"datetime":   true,
	"session_id": true,
}

// SensitiveFields must never appear in a persisted or synced record.
var SensitiveFields = []string{"password", "confirmPassword"}

// Sanitize returns a copy of data with sensitive fields removed, one
// nested map level deep.
func Sanitize(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	safe := make(map[string]any, len(data))
	for k, v := range data {
		if isSensitive(k) {
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			v = Sanitize(nested)
		}
		safe[k] = v
	}
	return safe
}

func isSensitive(key string) bool {
	for _, f := range SensitiveFields {
		if key == f {
			return true
		}
	}
	return false
}

// Flatten renders the event as the flat field map that is stored and
// synced. Extra fields win on collision except the protected ones.
func (e Event) Flatten() map[string]any {
	m := map[string]any{
		"id":         e.ID,
		"timestamp":  e.Timestamp,
		"datetime":   e.Datetime,
		"session_id": e.SessionID,
		"event_type": e.EventType,
		"page":       e.Page,
		"device":     e.Device,
		"utms":       e.UTMs,
	}
	if e.Referrer != nil {
		m["referrer"] = *e.Referrer
	} else {
		m["referrer"] = nil
	}
	for k, v := range e.Extra {
		if protected[k] {
			continue
		}
		m[k] = v
	}
	return m
}

func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Flatten())
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	e.ID, _ = raw["id"].(string)
	e.Datetime, _ = raw["datetime"].(string)
	e.SessionID, _ = raw["session_id"].(string)
	e.EventType, _ = raw["event_type"].(string)
	e.Page, _ = raw["page"].(string)
	if ts, ok := raw["timestamp"].(float64); ok {
		e.Timestamp = int64(ts)
	}
	if ref, ok := raw["referrer"].(string); ok {
		e.Referrer = &ref
	} else {
		e.Referrer = nil
	}
	if dev, ok := raw["device"].(map[string]any); ok {
		devBytes, err := json.Marshal(dev)
		if err == nil {
			_ = json.Unmarshal(devBytes, &e.Device)
		}
	}
	if utms, ok := raw["utms"].(map[string]any); ok {
		e.UTMs = make(map[string]string, len(utms))
		for k, v := range utms {
			if s, ok := v.(string); ok {
				e.UTMs[k] = s
			}
		}
	}

	known := map[string]bool{
		"id": true, "timestamp": true, "datetime": true, "session_id": true,
		"event_type": true, "page": true, "referrer": true, "device": true,
		"utms": true,
	}
	e.Extra = nil
	for k, v := range raw {
		if known[k] {
			continue
		}
		if e.Extra == nil {
			e.Extra = make(map[string]any)
		}
		e.Extra[k] = v
	}
	return nil
}

// Factory builds enriched events. Construction is synchronous and free
// of I/O so persistence stays fully decoupled from event shape.
type Factory struct {
	ids *identity.Provider
	now func() time.Time
}

func NewFactory(ids *identity.Provider) *Factory {
	return &Factory{ids: ids, now: time.Now}
}

// NewFactoryAt injects the clock, for tests.
func NewFactoryAt(ids *identity.Provider, now func() time.Time) *Factory {
	return &Factory{ids: ids, now: now}
}

// New assembles the base fields and merges extra over them. An extra
// "page" string overrides the page field; sensitive fields are stripped;
// protected fields are never overridden.
func (f *Factory) New(eventType string, extra map[string]any) Event {
	now := f.now()

	e := Event{
		ID:        fmt.Sprintf("evt_%d_%s", now.UnixMilli(), randBase36(5)),
		Timestamp: now.UnixMilli(),
		Datetime:  now.UTC().Format(time.RFC3339Nano),
		SessionID: f.ids.SessionID(),
		EventType: eventType,
		Page:      f.ids.Page(),
		Device:    f.ids.DeviceInfo(),
		UTMs:      f.ids.UTMData(),
	}
	if ref := f.ids.Referrer(); ref != "" {
		e.Referrer = &ref
	}

	if len(extra) > 0 {
		safe := Sanitize(extra)
		if page, ok := safe["page"].(string); ok && page != "" {
			e.Page = page
			delete(safe, "page")
		}
		if len(safe) > 0 {
			e.Extra = safe
		}
	}
	return e
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

func randBase36(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = base36[rand.Intn(len(base36))]
	}
	return string(b)
}
