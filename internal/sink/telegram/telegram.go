// Package telegram delivers match notifications to Telegram groups.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"matchwatch/internal/watch"
	logx "matchwatch/pkg/logx"
)

const textLimit = 4000

type Config struct {
	Token       string
	RatePerSec  int
	PollTimeout time.Duration
}

// Sink sends plain-text notifications through a telebot bot. All sends
// go through a shared token bucket so bursts of results at event end
// don't trip Telegram's flood control.
type Sink struct {
	bot     *tele.Bot
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Sink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sink{
		bot: b,
		// Token bucket: burst = rate per sec, so short spikes don't block too hard.
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log,
	}, nil
}

// Stop shuts down the underlying bot. Safe to call once after the last
// Deliver has returned.
func (s *Sink) Stop() {
	if s.bot != nil {
		s.bot.Stop()
	}
}

func (s *Sink) Deliver(ctx context.Context, groupID int64, n watch.Notification) error {
	var text string
	switch n.Kind {
	case watch.NotifyStart:
		text = formatStart(n)
	case watch.NotifyResult:
		text = formatResult(n)
	default:
		return fmt.Errorf("telegram: unknown notification kind %d", int(n.Kind))
	}

	chat := &tele.Chat{ID: groupID}
	for _, chunk := range splitText(text, textLimit) {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		if _, err := s.bot.Send(chat, chunk); err != nil {
			s.log.Warn("send failed",
				logx.Int64("group", groupID),
				logx.String("kind", n.Kind.String()),
				logx.String("match", n.MatchID()),
				logx.Err(err))
			return err
		}
	}
	s.log.Debug("notification sent",
		logx.Int64("group", groupID),
		logx.String("kind", n.Kind.String()),
		logx.String("match", n.MatchID()))
	return nil
}

func formatStart(n watch.Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔔 Match starting: %s vs %s\n", n.Match.TeamA, n.Match.TeamB)
	fmt.Fprintf(&b, "Event: %s\n", n.EventTitle)
	switch {
	case n.Match.IsLive:
		b.WriteString("Status: LIVE now")
	case n.MinutesUntil <= 0:
		b.WriteString("Status: starting any moment")
	default:
		fmt.Fprintf(&b, "Starts in ~%d min", n.MinutesUntil)
	}
	if n.Match.MapsFormat > 0 {
		fmt.Fprintf(&b, " (BO%d)", n.Match.MapsFormat)
	}
	return b.String()
}

func formatResult(n watch.Notification) string {
	r := n.Result
	var b strings.Builder
	fmt.Fprintf(&b, "🏁 Match finished: %s %d : %d %s\n", r.TeamA, r.ScoreA, r.ScoreB, r.TeamB)
	fmt.Fprintf(&b, "Event: %s\n", n.EventTitle)
	for _, m := range r.Maps {
		fmt.Fprintf(&b, "  %s  %d-%d\n", m.Name, m.ScoreA, m.ScoreB)
	}
	for _, d := range r.Detail {
		if len(d.Rows) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s:\n", d.Map)
		for _, p := range d.Rows {
			fmt.Fprintf(&b, "  %s (%s) %d-%d  %.2f\n", p.Name, p.Team, p.Kills, p.Deaths, p.Rating)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// splitText splits long messages into chunks that are safe to send to
// Telegram, preferring newline boundaries.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' {
					// Avoid extremely small chunks.
					if i-start >= limit/3 {
						end = i + 1
					}
					break
				}
			}
		}
		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		out = append(out, chunk)
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
