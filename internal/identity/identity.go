// Package identity derives who and where an event comes from: the
// tab-scoped session id, a device snapshot parsed from the user agent,
// and sticky UTM attribution.
package identity

import (
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/amorlat/funnel-tracking/internal/storage"
	"go.uber.org/zap"
)

const sessionSlot = "funnel_session_id"

// UTMKeys are the canonical attribution query parameters.
var UTMKeys = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content"}

// Env is the page environment the provider reads. Implementations must
// reflect the page state at call time; nothing here is cached.
type Env interface {
	Path() string
	Query() url.Values
	Referrer() string
	UserAgent() string
	Viewport() (width, height int)
}

// StaticEnv is a fixed Env for hosts whose page context does not change
// over the process lifetime (and for tests).
type StaticEnv struct {
	PagePath     string
	RawQuery     string
	PageReferrer string
	UA           string
	Width        int
	Height       int
}

func (e *StaticEnv) Path() string { return e.PagePath }

func (e *StaticEnv) Query() url.Values {
	values, err := url.ParseQuery(e.RawQuery)
	if err != nil {
		return url.Values{}
	}
	return values
}

func (e *StaticEnv) Referrer() string     { return e.PageReferrer }
func (e *StaticEnv) UserAgent() string    { return e.UA }
func (e *StaticEnv) Viewport() (int, int) { return e.Width, e.Height }

// DeviceInfo is a point-in-time snapshot of the client.
type DeviceInfo struct {
	Browser   string `json:"browser"`
	OS        string `json:"os"`
	Screen    string `json:"screen"`
	UserAgent string `json:"userAgent"`
}

// Provider owns session identity and attribution state. Tab holds the
// session id for the life of the process; Profile holds sticky UTM values
// across restarts.
type Provider struct {
	env     Env
	tab     storage.Store
	profile storage.Store
	logger  *zap.Logger
}

func NewProvider(env Env, tab, profile storage.Store, logger *zap.Logger) *Provider {
	return &Provider{
		env:     env,
		tab:     tab,
		profile: profile,
		logger:  logger,
	}
}

// SessionID returns the tab session id, creating it on first access.
// Once created it is looked up, never regenerated.
func (p *Provider) SessionID() string {
	if id, ok := p.tab.Get(sessionSlot); ok && id != "" {
		return id
	}

	id := fmt.Sprintf("sess_%d_%s", time.Now().UnixMilli(), randBase36(9))
	if err := p.tab.Set(sessionSlot, id); err != nil {
		p.logger.Warn("failed to persist session id", zap.Error(err))
	}
	return id
}

// DeviceInfo parses the user agent into coarse browser/OS labels and
// captures the viewport. Ordered substring checks, first match wins.
func (p *Provider) DeviceInfo() DeviceInfo {
	ua := p.env.UserAgent()
	browser := "Unknown"
	os := "Unknown"

	switch {
	case strings.Contains(ua, "Firefox"):
		browser = "Firefox"
	case strings.Contains(ua, "Chrome") && !strings.Contains(ua, "Edg"):
		browser = "Chrome"
	case strings.Contains(ua, "Safari") && !strings.Contains(ua, "Chrome"):
		browser = "Safari"
	case strings.Contains(ua, "Edg"):
		browser = "Edge"
	case strings.Contains(ua, "Opera") || strings.Contains(ua, "OPR"):
		browser = "Opera"
	}

	switch {
	case strings.Contains(ua, "Windows"):
		os = "Windows"
	case strings.Contains(ua, "Mac"):
		os = "MacOS"
	case strings.Contains(ua, "Linux"):
		os = "Linux"
	case strings.Contains(ua, "Android"):
		os = "Android"
	case strings.Contains(ua, "iPhone") || strings.Contains(ua, "iPad"):
		os = "iOS"
	}

	width, height := p.env.Viewport()
	if len(ua) > 200 {
		ua = ua[:200]
	}

	return DeviceInfo{
		Browser:   browser,
		OS:        os,
		Screen:    fmt.Sprintf("%dx%d", width, height),
		UserAgent: ua,
	}
}

// UTMData returns the known attribution values. The current navigation
// wins over the persisted value; anything observed is persisted so it
// survives navigation to pages without the query string.
func (p *Provider) UTMData() map[string]string {
	params := p.env.Query()
	utms := make(map[string]string)

	for _, key := range UTMKeys {
		value := params.Get(key)
		if value == "" {
			value, _ = p.profile.Get(key)
		}
		if value == "" {
			continue
		}
		utms[key] = value
		if err := p.profile.Set(key, value); err != nil {
			p.logger.Warn("failed to persist utm value",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}

	return utms
}

// Page returns the current navigable path.
func (p *Provider) Page() string { return p.env.Path() }

// Referrer returns the document referrer, empty when there is none.
func (p *Provider) Referrer() string { return p.env.Referrer() }

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

func randBase36(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = base36[rand.Intn(len(base36))]
	}
	return string(b)
}
