// Package tracker is the public tracking façade: one method per
// semantic event kind. Every method is fire-and-forget: it sanitizes
// the payload, builds the event, appends it to the durable journal and
// hands the remote mirror off to the background dispatcher. Nothing
// here ever returns an error to the caller or blocks on the backend.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/amorlat/funnel-tracking/internal/event"
	"github.com/amorlat/funnel-tracking/internal/identity"
	"github.com/amorlat/funnel-tracking/internal/journal"
	"github.com/amorlat/funnel-tracking/internal/remote"
	"github.com/amorlat/funnel-tracking/internal/storage"
	"go.uber.org/zap"
)

const (
	// DefaultPrice applies when a paywall/checkout call carries none.
	DefaultPrice = 19.90

	// Profile slot holding the local user snapshot.
	userSlot = "funnel_user_data"
)

type Tracker struct {
	factory  *event.Factory
	journal  *journal.Journal
	remote   *remote.Client
	dispatch *remote.Dispatcher
	ids      *identity.Provider
	profile  storage.Store
	logger   *zap.Logger

	mu        sync.Mutex
	pageStart time.Time
	now       func() time.Time
}

func New(
	factory *event.Factory,
	jrnl *journal.Journal,
	client *remote.Client,
	dispatch *remote.Dispatcher,
	ids *identity.Provider,
	profile storage.Store,
	logger *zap.Logger,
) *Tracker {
	return &Tracker{
		factory:  factory,
		journal:  jrnl,
		remote:   client,
		dispatch: dispatch,
		ids:      ids,
		profile:  profile,
		logger:   logger,
		now:      time.Now,
	}
}

// capture is the single path every event kind flows through: local
// append first, remote mirror dispatched without waiting.
func (t *Tracker) capture(eventType string, payload map[string]any) {
	ev := t.factory.New(eventType, payload)
	t.journal.Append(ev)
	t.dispatch.Enqueue("save_event", func(ctx context.Context) {
		t.remote.SaveEvent(ctx, ev)
	})
}

// TrackPageView records a page view and starts the on-page timer used
// by TrackPageExit. An empty pageName keeps the current path.
func (t *Tracker) TrackPageView(pageName string) {
	payload := map[string]any{}
	if pageName != "" {
		payload["page"] = pageName
	}
	t.capture(event.TypePageView, payload)

	t.mu.Lock()
	t.pageStart = t.now()
	t.mu.Unlock()
}

// TrackPageExit records time spent since the last page view. No-op when
// no page view started the timer.
func (t *Tracker) TrackPageExit() {
	t.mu.Lock()
	start := t.pageStart
	t.mu.Unlock()
	if start.IsZero() {
		return
	}

	spent := t.now().Sub(start).Milliseconds()
	t.capture(event.TypePageExit, map[string]any{
		"time_spent_ms":        spent,
		"time_spent_formatted": formatTime(spent),
	})
}

func (t *Tracker) TrackCTA(ctaID, ctaText, destinationURL string) {
	t.capture(event.TypeCTAClick, map[string]any{
		"cta_id":          ctaID,
		"cta_text":        ctaText,
		"destination_url": nullable(destinationURL),
	})
}

func (t *Tracker) TrackFormSubmit(formID string, formData map[string]any) {
	t.capture(event.TypeFormSubmit, map[string]any{
		"form_id":   formID,
		"form_data": event.Sanitize(formData),
	})
}

func (t *Tracker) TrackSwipe(action, profileID, profileName string) {
	t.capture(event.TypeSwipe, map[string]any{
		"swipe_action": action, // "like" or "dislike"
		"profile_id":   profileID,
		"profile_name": profileName,
	})
}

func (t *Tracker) TrackInterest(interest string, selected bool) {
	t.capture(event.TypeInterestToggle, map[string]any{
		"interest": interest,
		"selected": selected,
	})
}

func (t *Tracker) TrackPhotoUpload(photoIndex int) {
	t.capture(event.TypePhotoUpload, map[string]any{
		"photo_index": photoIndex,
	})
}

// TrackConversion defaults the type to "chat_reached".
func (t *Tracker) TrackConversion(conversionType string) {
	if conversionType == "" {
		conversionType = "chat_reached"
	}
	t.capture(event.TypeConversion, map[string]any{
		"conversion_type": conversionType,
	})
}

// TrackCustom is the escape hatch for event kinds the façade does not
// name yet.
func (t *Tracker) TrackCustom(eventName string, data map[string]any) {
	t.capture(eventName, map[string]any{
		"custom_data": event.Sanitize(data),
	})
}

func (t *Tracker) TrackFieldFocus(fieldName string) {
	t.capture(event.TypeFieldFocus, map[string]any{
		"field_name": fieldName,
	})
}

func (t *Tracker) TrackFieldFilled(fieldName string, hasValue bool) {
	t.capture(event.TypeFieldFilled, map[string]any{
		"field_name": fieldName,
		"has_value":  hasValue,
	})
}

func (t *Tracker) TrackFormError(errorType, details string) {
	t.capture(event.TypeFormError, map[string]any{
		"error_type":    errorType, // "password_mismatch", "password_short", "required_field", ...
		"error_details": details,
	})
}

func (t *Tracker) TrackFormAttempt(formID string, success bool, errorType string) {
	t.capture(event.TypeFormAttempt, map[string]any{
		"form_id":    formID,
		"success":    success,
		"error_type": nullable(errorType),
	})
}

func (t *Tracker) TrackRegistrationComplete(step string, data map[string]any) {
	t.capture(event.TypeRegistrationDone, map[string]any{
		"step": step,
		"data": event.Sanitize(data),
	})
}

func (t *Tracker) TrackBioFilled(charCount int) {
	t.capture(event.TypeBioFilled, map[string]any{
		"char_count":  charCount,
		"has_content": charCount > 0,
	})
}

func (t *Tracker) TrackInterestsCount(count int, interests []string) {
	t.capture(event.TypeInterestsCount, map[string]any{
		"count":     count,
		"interests": interests,
	})
}

func (t *Tracker) TrackProfileView(profileID, profileName string, profileIndex int) {
	t.capture(event.TypeProfileView, map[string]any{
		"profile_id":    profileID,
		"profile_name":  profileName,
		"profile_index": profileIndex,
	})
}

func (t *Tracker) TrackWithdrawPopup(action, source string) {
	t.capture(event.TypeWithdrawPopup, map[string]any{
		"action": action, // "open", "close", "submit_pix"
		"source": source,
	})
}

func (t *Tracker) TrackPixKeyEntered(source string) {
	t.capture(event.TypePixKeyEntered, map[string]any{
		"source": source,
	})
}

func (t *Tracker) TrackPaywall(action, source string, price float64) {
	if price <= 0 {
		price = DefaultPrice
	}
	t.capture(event.TypePaywall, map[string]any{
		"action": action, // "view", "dismiss", "click_checkout"
		"source": source,
		"price":  price,
	})
}

func (t *Tracker) TrackCheckout(action, source string, price float64) {
	if price <= 0 {
		price = DefaultPrice
	}
	t.capture(event.TypeCheckout, map[string]any{
		"action": action, // "init", "complete", "abandon"
		"source": source,
		"price":  price,
	})
}

func (t *Tracker) TrackGiftClaim(giftID string, giftValue float64, source string) {
	t.capture(event.TypeGiftClaim, map[string]any{
		"gift_id":    giftID,
		"gift_value": giftValue,
		"source":     source,
	})
}

func (t *Tracker) TrackChatMessage(action, messageType, source string) {
	t.capture(event.TypeChatMessage, map[string]any{
		"action":       action,      // "sent", "received", "read"
		"message_type": messageType, // "text", "image", "gift"
		"source":       source,
	})
}

func (t *Tracker) TrackContentScroll(contentType string, scrollPercent int) {
	t.capture(event.TypeContentScroll, map[string]any{
		"content_type":   contentType,
		"scroll_percent": scrollPercent,
	})
}

func (t *Tracker) TrackPremiumMatchAction(action, profileName string) {
	t.capture(event.TypePremiumMatchAction, map[string]any{
		"action":       action, // "start_chat", "next_profile", "view_content"
		"profile_name": profileName,
	})
}

// SaveUserData merges the snapshot locally and mirrors it (with device
// and attribution context) to the remote profile record.
func (t *Tracker) SaveUserData(data map[string]any) {
	sessionID := t.ids.SessionID()
	safe := event.Sanitize(data)

	t.mergeLocalSnapshot(sessionID, safe)

	remoteData := make(map[string]any, len(safe)+2)
	for k, v := range safe {
		remoteData[k] = v
	}
	remoteData["device"] = t.ids.DeviceInfo()
	remoteData["utms"] = t.ids.UTMData()
	t.dispatch.Enqueue("save_user", func(ctx context.Context) {
		t.remote.SaveUser(ctx, sessionID, remoteData)
	})
}

func (t *Tracker) mergeLocalSnapshot(sessionID string, safe map[string]any) {
	current := map[string]any{}
	if raw, ok := t.profile.Get(userSlot); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &current); err != nil {
			t.logger.Warn("user snapshot is corrupt, replacing", zap.Error(err))
			current = map[string]any{}
		}
	}
	for k, v := range safe {
		current[k] = v
	}
	current["session_id"] = sessionID

	data, err := json.Marshal(current)
	if err != nil {
		t.logger.Error("failed to serialize user snapshot", zap.Error(err))
		return
	}
	if err := t.profile.Set(userSlot, string(data)); err != nil {
		t.logger.Error("failed to persist user snapshot", zap.Error(err))
	}
}

// UpdateFunnelStage records the stage transition on the remote profile.
func (t *Tracker) UpdateFunnelStage(stage string, extra map[string]any) {
	sessionID := t.ids.SessionID()
	t.dispatch.Enqueue("update_funnel_stage", func(ctx context.Context) {
		t.remote.UpdateFunnelStage(ctx, sessionID, stage, extra)
	})
}

// AllEvents returns the full local log, oldest first.
func (t *Tracker) AllEvents() []event.Event {
	return t.journal.ReadAll()
}

// ClearEvents empties the local log.
func (t *Tracker) ClearEvents() {
	t.journal.Clear()
}

// ExportEvents writes the local log to a dated file and returns its path.
func (t *Tracker) ExportEvents() (string, error) {
	return t.journal.Export()
}

func formatTime(ms int64) string {
	seconds := ms / 1000
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
}

// nullable maps "" to an explicit null so the stored record keeps the
// field rather than dropping it locally. Remote sync strips it there.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
