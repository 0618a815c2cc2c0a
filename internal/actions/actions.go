// Package actions dispatches the actions attached to a rule's result
// bucket (spec.md §3 result_actions, §4.F "Actions list"). EMAIL is
// grounded on AMD-AGI-Primus-SaFE's notification/channel EmailChannel;
// SMS, AUTOMATION and GPO_INTERACTION have no external transport in
// this repository's scope and are logged stubs (see DESIGN.md).
package actions

import (
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"

	"flexalert/internal/alert"
	"flexalert/internal/logger"
	"flexalert/internal/metrics"
)

const gpoInteractionPrefix = "GPO_INTERACTION:"

// EmailConfig configures the SMTP dialer used by the EMAIL action.
type EmailConfig struct {
	SMTPHost string
	SMTPPort int
	Username string
	Password string
	From     string
	UseTLS   bool
	To       []string
}

// Dispatcher sends one alert's actions out to their respective
// channels. A nil EmailConfig disables EMAIL dispatch (logged, not
// fatal) — matches EmailChannel.Send's "not initialized" guard.
type Dispatcher struct {
	email *EmailConfig
}

// New returns a Dispatcher. email may be nil.
func New(email *EmailConfig) *Dispatcher {
	return &Dispatcher{email: email}
}

// Dispatch runs every action tag attached to env, logging and counting
// each outcome; a failure in one action does not stop the others.
func (d *Dispatcher) Dispatch(env alert.Envelope) {
	for _, tag := range env.Actions {
		d.dispatchOne(env, tag)
	}
}

func (d *Dispatcher) dispatchOne(env alert.Envelope, tag string) {
	log := logger.WithComponent("actions")

	switch {
	case tag == "EMAIL":
		d.recordOutcome("email", d.sendEmail(env))
	case tag == "SMS":
		log.Warn().Str("rule", env.RuleName).Msg("SMS action not wired to a transport, dropping")
		d.recordOutcome("sms", fmt.Errorf("no SMS transport configured"))
	case tag == "AUTOMATION":
		log.Warn().Str("rule", env.RuleName).Msg("AUTOMATION action not wired to a transport, dropping")
		d.recordOutcome("automation", fmt.Errorf("no automation transport configured"))
	case strings.HasPrefix(tag, gpoInteractionPrefix):
		asset, mode, ok := splitGPOInteraction(tag)
		if !ok {
			d.recordOutcome("gpo_interaction", fmt.Errorf("malformed GPO_INTERACTION tag %q", tag))
			return
		}
		log.Warn().Str("rule", env.RuleName).Str("gpo_asset", asset).Str("mode", mode).
			Msg("GPO_INTERACTION action not wired to a device transport, dropping")
		d.recordOutcome("gpo_interaction", fmt.Errorf("no device transport configured"))
	default:
		log.Warn().Str("rule", env.RuleName).Str("action", tag).Msg("unknown action tag, dropping")
		d.recordOutcome("unknown", fmt.Errorf("unknown action tag %q", tag))
	}
}

func (d *Dispatcher) recordOutcome(kind string, err error) {
	status := "ok"
	if err != nil {
		status = "failed"
	}
	metrics.ActionsDispatchedTotal.WithLabelValues(kind, status).Inc()
}

func (d *Dispatcher) sendEmail(env alert.Envelope) error {
	if d.email == nil {
		return fmt.Errorf("email action dispatched but no SMTP configuration present")
	}
	if len(d.email.To) == 0 {
		return fmt.Errorf("no recipients configured for email action")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", d.email.From)
	m.SetHeader("To", d.email.To...)
	m.SetHeader("Subject", fmt.Sprintf("[%s] %s on %s", env.Severity, env.RuleName, env.Asset))
	m.SetBody("text/plain", env.Message)

	dialer := gomail.NewDialer(d.email.SMTPHost, d.email.SMTPPort, d.email.Username, d.email.Password)
	dialer.SSL = d.email.UseTLS

	if err := dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// splitGPOInteraction reverses rule.Rule's flattening of a structured
// GPO_INTERACTION action into "GPO_INTERACTION:<asset>:<mode>" (§9
// "Action strings").
func splitGPOInteraction(tag string) (asset, mode string, ok bool) {
	rest := strings.TrimPrefix(tag, gpoInteractionPrefix)
	idx := strings.Index(rest, ":")
	if idx < 0 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}
