// Package autotrack infers trackable actions from generic clicks and
// DOM mutations, without per-element wiring. Explicit markers win where
// present; everything else is keyword heuristics over rendered text.
package autotrack

import (
	"strings"

	"github.com/amorlat/funnel-tracking/internal/dom"
	"github.com/amorlat/funnel-tracking/internal/tracker"
	"go.uber.org/zap"
)

// MarkerAttr names a CTA event precisely and bypasses the heuristics.
const MarkerAttr = "data-track-cta"

type Observer struct {
	api    *tracker.Tracker
	logger *zap.Logger
}

func NewObserver(api *tracker.Tracker, logger *zap.Logger) *Observer {
	return &Observer{api: api, logger: logger}
}

// buttonRules classify a button click by its lower-cased text. The
// checks are independent: one click may fire several events.
type buttonRule struct {
	name  string
	match func(text string) bool
	fire  func(api *tracker.Tracker)
}

var buttonRules = []buttonRule{
	{
		name:  "swipe_like",
		match: func(text string) bool { return strings.Contains(text, "curtir") },
		fire:  func(api *tracker.Tracker) { api.TrackSwipe("like", "auto", "Profile") },
	},
	{
		name:  "swipe_dislike",
		match: func(text string) bool { return text == "x" },
		fire:  func(api *tracker.Tracker) { api.TrackSwipe("dislike", "auto", "Profile") },
	},
	{
		name: "withdraw_open",
		match: func(text string) bool {
			return strings.Contains(text, "saldo") || strings.Contains(text, "r$")
		},
		fire: func(api *tracker.Tracker) { api.TrackWithdrawPopup("open", "header") },
	},
	{
		name: "checkout",
		match: func(text string) bool {
			return strings.Contains(text, "liberar") ||
				strings.Contains(text, "acesso vip") ||
				strings.Contains(text, "assinar")
		},
		fire: func(api *tracker.Tracker) {
			// A checkout click is both a paywall interaction and the
			// start of a checkout.
			api.TrackPaywall("click_checkout", "auto_detect", 0)
			api.TrackCheckout("init", "auto_detect", 0)
		},
	},
	{
		name:  "withdraw_submit",
		match: func(text string) bool { return strings.Contains(text, "solicitar saque") },
		fire:  func(api *tracker.Tracker) { api.TrackWithdrawPopup("submit_pix", "modal") },
	},
	{
		name: "gift_claim",
		match: func(text string) bool {
			return strings.Contains(text, "resgatar") || strings.Contains(text, "presente")
		},
		fire: func(api *tracker.Tracker) { api.TrackGiftClaim("auto", 50, "chat") },
	},
}

// OnClick classifies one document click. The explicit marker path takes
// precedence and suppresses the heuristic fallbacks; the disabled-button
// check is independent of all of them.
func (o *Observer) OnClick(target *dom.Element) {
	if target == nil {
		return
	}

	marker := target.ClosestWithAttr(MarkerAttr)
	if marker != nil {
		o.api.TrackCTA(
			marker.Attr(MarkerAttr),
			strings.TrimSpace(marker.Text),
			marker.Attr("href"),
		)
	} else if btn := target.Closest("button"); btn != nil {
		text := strings.ToLower(strings.TrimSpace(btn.Text))
		for _, rule := range buttonRules {
			if rule.match(text) {
				o.logger.Debug("click classified", zap.String("rule", rule.name))
				rule.fire(o.api)
			}
		}

		// Fallback: a button wrapped in a link is a generic CTA.
		if link := target.Closest("a"); link != nil {
			ctaText := strings.TrimSpace(btn.Text)
			href := link.Attr("href")
			if ctaText != "" && href != "" {
				o.api.TrackCTA("auto_"+slugify(ctaText), ctaText, href)
			}
		}
	}

	// A click on a disabled continue/next button models a user trying
	// to get past a blocked step.
	if target.Tag == "button" && target.Disabled {
		text := strings.ToLower(strings.TrimSpace(target.Text))
		if strings.Contains(text, "continuar") || strings.Contains(text, "próximo") {
			o.api.TrackFormError("required_field", "click on disabled button")
		}
	}
}

// errorIndicators mark a newly rendered node as a validation message.
var errorIndicators = []string{"obrigatório", "inválido", "curta", "erro", "não confere"}

// errorKinds is evaluated in priority order; the first match names the
// error kind.
var errorKinds = []struct {
	kind  string
	match func(text string) bool
}{
	{
		kind:  "required_field",
		match: func(text string) bool { return strings.Contains(text, "obrigatório") },
	},
	{
		kind: "password_mismatch",
		match: func(text string) bool {
			return strings.Contains(text, "não confere") || strings.Contains(text, "diferentes")
		},
	},
	{
		kind:  "password_short",
		match: func(text string) bool { return strings.Contains(text, "curta") },
	},
}

// OnMutation inspects elements added to the document for validation
// toasts rendered by UI code that never calls the tracking API itself.
func (o *Observer) OnMutation(added []*dom.Element) {
	for _, el := range added {
		if el == nil {
			continue
		}
		text := strings.ToLower(el.Text)
		if !looksLikeError(text) {
			continue
		}
		o.api.TrackFormError(classifyError(text), truncate(text, 100))
	}
}

func looksLikeError(text string) bool {
	for _, indicator := range errorIndicators {
		if strings.Contains(text, indicator) {
			return true
		}
	}
	return false
}

func classifyError(text string) string {
	for _, k := range errorKinds {
		if k.match(text) {
			return k.kind
		}
	}
	return "other"
}

func slugify(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "_")
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
