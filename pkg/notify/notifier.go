package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cuemby/sentinel/pkg/config"
	"github.com/cuemby/sentinel/pkg/events"
	"github.com/cuemby/sentinel/pkg/log"
	"github.com/cuemby/sentinel/pkg/metrics"
	"github.com/cuemby/sentinel/pkg/types"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

const timeLayout = "2006-01-02 15:04:05 UTC"

// Deduper decides whether a keyed notification may be sent again
type Deduper interface {
	ShouldNotify(key string, cooldown time.Duration, now time.Time) (bool, error)
}

// Notifier fans messages out to every configured channel
type Notifier struct {
	channels    []Channel
	dedupe      Deduper
	cooldown    time.Duration
	minSeverity events.Severity
	now         func() time.Time
	logger      zerolog.Logger
}

// NewNotifier creates a notifier for channels
func NewNotifier(channels ...Channel) *Notifier {
	return &Notifier{
		channels: channels,
		cooldown: time.Hour,
		now:      time.Now,
		logger:   log.WithComponent("notify"),
	}
}

// FromConfig builds the channels enabled in cfg
func FromConfig(cfg config.NotificationConfig) *Notifier {
	var channels []Channel
	if cfg.DiscordWebhook != "" {
		channels = append(channels, NewDiscord(cfg.DiscordWebhook))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		channels = append(channels, NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	return NewNotifier(channels...).WithMinSeverity(events.Severity(cfg.MinSeverity))
}

// WithMinSeverity makes Run skip events less severe than severity
func (n *Notifier) WithMinSeverity(severity events.Severity) *Notifier {
	n.minSeverity = severity
	return n
}

// WithDeduper suppresses repeats of a key within cooldown
func (n *Notifier) WithDeduper(dedupe Deduper, cooldown time.Duration) *Notifier {
	n.dedupe = dedupe
	n.cooldown = cooldown
	return n
}

// Enabled reports whether any channel is configured
func (n *Notifier) Enabled() bool {
	return len(n.channels) > 0
}

// Channels returns the configured channel names
func (n *Notifier) Channels() []string {
	names := make([]string, 0, len(n.channels))
	for _, c := range n.channels {
		names = append(names, c.Name())
	}
	return names
}

// Send delivers msg to every channel and joins their errors
func (n *Notifier) Send(ctx context.Context, msg Message) error {
	if msg.Time.IsZero() {
		msg.Time = n.now()
	}

	var errs []error
	for _, c := range n.channels {
		if err := c.Send(ctx, msg); err != nil {
			n.logger.Warn().Err(err).Str("channel", c.Name()).Str("title", msg.Title).Msg("Notification failed")
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
			continue
		}
		n.logger.Debug().Str("channel", c.Name()).Str("title", msg.Title).Msg("Notification sent")
	}

	if len(errs) > 0 {
		metrics.UpdateComponent(metrics.ComponentNotifier, false, errs[0].Error())
		return errors.Join(errs...)
	}
	metrics.UpdateComponent(metrics.ComponentNotifier, true, "")
	return nil
}

// SendOnce sends msg unless key was sent within the cooldown
func (n *Notifier) SendOnce(ctx context.Context, key string, msg Message) error {
	if n.dedupe != nil && key != "" {
		ok, err := n.dedupe.ShouldNotify(key, n.cooldown, n.now())
		if err != nil {
			n.logger.Warn().Err(err).Str("key", key).Msg("Dedupe lookup failed, sending anyway")
		} else if !ok {
			n.logger.Debug().Str("key", key).Msg("Notification suppressed")
			return nil
		}
	}
	return n.Send(ctx, msg)
}

// Run forwards broker events to the channels until ctx is done
func (n *Notifier) Run(ctx context.Context, broker *events.Broker) {
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub:
			if !ok {
				return
			}
			if n.minSeverity != "" && !event.Severity.AtLeast(n.minSeverity) {
				continue
			}
			key, msg := FromEvent(event)
			if err := n.SendOnce(ctx, key, msg); err != nil {
				n.logger.Debug().Err(err).Str("event", string(event.Type)).Msg("Event not delivered")
			}
		}
	}
}

// FromEvent renders an event and returns its dedupe key. Only issue and
// release events are keyed.
func FromEvent(e *events.Event) (string, Message) {
	msg := Message{Severity: e.Severity, Time: e.Timestamp}
	component := e.Metadata["component"]
	key := ""

	switch e.Type {
	case events.EventIssueDetected:
		key = "issue:" + e.Metadata["issue"]
		msg.Title = "Story Sentinel - Issue Detected"
		msg.Body = fmt.Sprintf("⚠️ **%s**\n\n📝 Details: %s\n⏰ Time: %s",
			e.Metadata["issue"], e.Message, e.Timestamp.UTC().Format(timeLayout))

	case events.EventHealthChanged:
		emoji := "❌"
		if e.Metadata["healthy"] == "true" {
			emoji = "✅"
		}
		msg.Title = fmt.Sprintf("Story Sentinel - %s Alert", e.Metadata["service"])
		msg.Body = fmt.Sprintf("%s **Story Sentinel Alert**\n\n🔧 Service: %s\n📝 Details: %s\n⏰ Time: %s",
			emoji, e.Metadata["service"], e.Message, e.Timestamp.UTC().Format(timeLayout))

	case events.EventReleaseFound:
		key = fmt.Sprintf("release:%s:%s", component, e.Metadata["version"])
		msg.Title = "Story Sentinel - Update Available"
		msg.Body = fmt.Sprintf("🔔 **New Update Detected**\n\n📦 Component: %s\n📊 Current: %s\n🆕 Available: %s\n📅 Released: %s\n\n"+
			"⚠️ **Important:** Check upstream announcements for upgrade timing requirements!\n\n"+
			"Use: `sentinel upgrade %s %s`",
			component, e.Metadata["current"], e.Metadata["version"], e.Metadata["published"],
			component, e.Metadata["version"])

	case events.EventUpgradeScheduled, events.EventUpgradeApproved, events.EventUpgradeCancelled:
		verb := strings.TrimPrefix(string(e.Type), "upgrade.")
		msg.Title = "Story Sentinel - Upgrade " + titleCase(verb)
		msg.Body = fmt.Sprintf("📅 **Upgrade %s**\n\n%s", titleCase(verb), e.Message)

	case events.EventUpgradeStarted:
		msg.Title = "Story Sentinel - Upgrade Started"
		msg.Body = fmt.Sprintf("🔧 Component: %s\n🆕 Version: %s\n⏰ Time: %s",
			component, e.Metadata["version"], e.Timestamp.UTC().Format(timeLayout))

	case events.EventUpgradeSucceeded:
		msg.Title = "Story Sentinel - Upgrade Completed"
		msg.Body = fmt.Sprintf("✅ **Story Sentinel Upgrade Completed**\n\n%s", e.Message)

	case events.EventUpgradeFailed, events.EventUpgradeRolledBack:
		msg.Title = "Story Sentinel - Upgrade Failed"
		msg.Body = fmt.Sprintf("❌ **Story Sentinel Upgrade Failed**\n\n%s\n📊 Outcome: %s", e.Message, e.Metadata["outcome"])

	default:
		msg.Title = "Story Sentinel - " + string(e.Type)
		msg.Body = e.Message
	}
	return key, msg
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Startup summarises node health and available updates when the monitor
// starts
func Startup(snapshot types.Snapshot, updates map[types.Component]types.Version, now time.Time) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "🚀 **Story Sentinel Started**\n\n✅ Monitoring service started successfully\n⏰ Time: %s\n\n",
		now.UTC().Format(timeLayout))

	if len(snapshot.Reports) > 0 {
		b.WriteString("**📊 Current Node Status:**\n")
		for _, component := range sortedComponents(snapshot.Reports) {
			r := snapshot.Reports[component]
			if r.Healthy {
				fmt.Fprintf(&b, "✅ %s: Healthy\n", r.Service)
				continue
			}
			fmt.Fprintf(&b, "❌ %s: Unhealthy\n", r.Service)
			if r.Message != "" {
				fmt.Fprintf(&b, "   └─ %s\n", r.Message)
			}
		}
		b.WriteString("\n")
	}

	if len(updates) > 0 {
		b.WriteString("**📦 Updates Available:**\n")
		for _, component := range []types.Component{types.ComponentConsensus, types.ComponentExecution} {
			v, ok := updates[component]
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "🔔 %s: %s\n", component, v.Number)
			if !v.PublishedAt.IsZero() {
				fmt.Fprintf(&b, "   └─ Released: %s (%s)\n", v.PublishedAt.Format("2006-01-02"), humanize.RelTime(v.PublishedAt, now, "ago", "from now"))
			}
		}
		b.WriteString("\n")
	} else {
		b.WriteString("✅ **All components up to date**\n\n")
	}
	b.WriteString("📊 Ready to monitor node health")

	return Message{Title: "Story Sentinel - Service Started", Body: b.String(), Severity: events.SeverityInfo, Time: now}
}

// Ping is the message sent to check that channels are reachable
func Ping(now time.Time) Message {
	return Message{
		Title:    "Story Sentinel - Test Notification",
		Body:     fmt.Sprintf("🧪 **Story Sentinel Test**\n\n✅ Notification system is working correctly\n⏰ Time: %s", now.UTC().Format(timeLayout)),
		Severity: events.SeverityInfo,
		Time:     now,
	}
}

func sortedComponents(reports map[types.Component]types.HealthReport) []types.Component {
	out := make([]types.Component, 0, len(reports))
	for c := range reports {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
