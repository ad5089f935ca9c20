package tracker

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/amorlat/funnel-tracking/internal/event"
	"github.com/amorlat/funnel-tracking/internal/identity"
	"github.com/amorlat/funnel-tracking/internal/journal"
	"github.com/amorlat/funnel-tracking/internal/remote"
	"github.com/amorlat/funnel-tracking/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestTracker(t *testing.T, env *identity.StaticEnv) (*Tracker, *journal.Journal, storage.Store) {
	t.Helper()
	if env == nil {
		env = &identity.StaticEnv{PagePath: "/discover"}
	}
	profile := storage.NewMemoryStore()
	ids := identity.NewProvider(env, storage.NewMemoryStore(), profile, zap.NewNop())
	jrnl := journal.New(storage.NewMemoryStore(), 100, t.TempDir(), zap.NewNop())
	trk := New(
		event.NewFactory(ids),
		jrnl,
		remote.NewClient(remote.Config{}, nil, zap.NewNop()),
		remote.NewDispatcher(64, zap.NewNop()),
		ids,
		profile,
		zap.NewNop(),
	)
	return trk, jrnl, profile
}

func lastEvent(t *testing.T, jrnl *journal.Journal) event.Event {
	t.Helper()
	events := jrnl.ReadAll()
	require.NotEmpty(t, events)
	return events[len(events)-1]
}

func TestTrackPageViewOnDiscover(t *testing.T) {
	trk, jrnl, _ := newTestTracker(t, &identity.StaticEnv{PagePath: "/discover"})

	trk.TrackPageView("")

	ev := lastEvent(t, jrnl)
	assert.Equal(t, event.TypePageView, ev.EventType)
	assert.Equal(t, "/discover", ev.Page)
	assert.Empty(t, ev.UTMs)

	_, err := time.Parse(time.RFC3339Nano, ev.Datetime)
	assert.NoError(t, err)
}

func TestTrackPageViewOverridesPage(t *testing.T) {
	trk, jrnl, _ := newTestTracker(t, nil)

	trk.TrackPageView("/paywall")

	assert.Equal(t, "/paywall", lastEvent(t, jrnl).Page)
}

func TestTrackPageExitComputesElapsed(t *testing.T) {
	trk, jrnl, _ := newTestTracker(t, nil)

	base := time.Now()
	trk.now = func() time.Time { return base }
	trk.TrackPageView("")

	trk.now = func() time.Time { return base.Add(95 * time.Second) }
	trk.TrackPageExit()

	ev := lastEvent(t, jrnl)
	assert.Equal(t, event.TypePageExit, ev.EventType)
	assert.Equal(t, float64(95000), ev.Extra["time_spent_ms"])
	assert.Equal(t, "1m 35s", ev.Extra["time_spent_formatted"])
}

func TestTrackPageExitWithoutPageViewIsNoop(t *testing.T) {
	trk, jrnl, _ := newTestTracker(t, nil)
	trk.TrackPageExit()
	assert.Empty(t, jrnl.ReadAll())
}

func TestFormatTime(t *testing.T) {
	tests := []struct {
		ms   int64
		want string
	}{
		{0, "0s"},
		{999, "0s"},
		{42000, "42s"},
		{60000, "1m 0s"},
		{192000, "3m 12s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatTime(tt.ms))
	}
}

func TestTrackFormSubmitStripsSensitiveData(t *testing.T) {
	trk, jrnl, _ := newTestTracker(t, nil)

	trk.TrackFormSubmit("signup", map[string]any{
		"email":           "ana@example.com",
		"password":        "secreta",
		"confirmPassword": "secreta",
	})

	ev := lastEvent(t, jrnl)
	formData := ev.Extra["form_data"].(map[string]any)
	assert.Equal(t, "ana@example.com", formData["email"])
	assert.NotContains(t, formData, "password")
	assert.NotContains(t, formData, "confirmPassword")
}

func TestTrackConversionDefaultsType(t *testing.T) {
	trk, jrnl, _ := newTestTracker(t, nil)

	trk.TrackConversion("")
	assert.Equal(t, "chat_reached", lastEvent(t, jrnl).Extra["conversion_type"])

	trk.TrackConversion("premium_upgrade")
	assert.Equal(t, "premium_upgrade", lastEvent(t, jrnl).Extra["conversion_type"])
}

func TestTrackPaywallDefaultsPrice(t *testing.T) {
	trk, jrnl, _ := newTestTracker(t, nil)

	trk.TrackPaywall("view", "chat", 0)
	assert.Equal(t, DefaultPrice, lastEvent(t, jrnl).Extra["price"])

	trk.TrackCheckout("init", "chat", 29.90)
	assert.Equal(t, 29.90, lastEvent(t, jrnl).Extra["price"])
}

func TestTrackCustomCarriesArbitraryType(t *testing.T) {
	trk, jrnl, _ := newTestTracker(t, nil)

	trk.TrackCustom("onboarding_skipped", map[string]any{"reason": "impatient"})

	ev := lastEvent(t, jrnl)
	assert.Equal(t, "onboarding_skipped", ev.EventType)
	custom := ev.Extra["custom_data"].(map[string]any)
	assert.Equal(t, "impatient", custom["reason"])
}

func TestEventsAccumulateInOrder(t *testing.T) {
	trk, _, _ := newTestTracker(t, nil)

	trk.TrackPageView("")
	trk.TrackSwipe("like", "p1", "Ana")
	trk.TrackSwipe("dislike", "p2", "Bia")
	trk.TrackConversion("")

	events := trk.AllEvents()
	require.Len(t, events, 4)
	assert.Equal(t, event.TypePageView, events[0].EventType)
	assert.Equal(t, event.TypeSwipe, events[1].EventType)
	assert.Equal(t, event.TypeSwipe, events[2].EventType)
	assert.Equal(t, event.TypeConversion, events[3].EventType)

	trk.ClearEvents()
	assert.Empty(t, trk.AllEvents())
}

func TestSaveUserDataMergesLocalSnapshot(t *testing.T) {
	trk, _, profile := newTestTracker(t, nil)

	trk.SaveUserData(map[string]any{"name": "Ana", "password": "secreta"})
	trk.SaveUserData(map[string]any{"age": 29})

	raw, ok := profile.Get("funnel_user_data")
	require.True(t, ok)

	var snapshot map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &snapshot))
	assert.Equal(t, "Ana", snapshot["name"])
	assert.Equal(t, float64(29), snapshot["age"])
	assert.NotContains(t, snapshot, "password")
	assert.NotEmpty(t, snapshot["session_id"])
}

func TestTrackingNeverPanicsWithoutRemote(t *testing.T) {
	trk, _, _ := newTestTracker(t, nil)

	assert.NotPanics(t, func() {
		trk.TrackPageView("")
		trk.TrackCTA("hero", "Entrar", "")
		trk.TrackFieldFocus("email")
		trk.TrackFieldFilled("email", true)
		trk.TrackFormAttempt("signup", false, "required_field")
		trk.TrackRegistrationComplete("2", nil)
		trk.TrackBioFilled(0)
		trk.TrackInterestsCount(3, []string{"viajar", "cozinhar", "cinema"})
		trk.TrackProfileView("p1", "Ana", 0)
		trk.TrackPixKeyEntered("modal")
		trk.TrackGiftClaim("g1", 50, "chat")
		trk.TrackChatMessage("sent", "text", "chat")
		trk.TrackContentScroll("feed", 80)
		trk.TrackPremiumMatchAction("start_chat", "Ana")
		trk.TrackInterest("viajar", true)
		trk.TrackPhotoUpload(1)
		trk.UpdateFunnelStage("paywall", nil)
		trk.TrackPageExit()
	})
	assert.Len(t, trk.AllEvents(), 17)
}
