// Package hltv implements the upstream DataSource against an HLTV
// mirror API serving JSON. The upstream is rate limited and flaky;
// this client owns the request budget and per-call timeouts, while
// retries and failure signalling stay with the orchestrator.
package hltv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"matchwatch/internal/watch"
	logx "matchwatch/pkg/logx"
)

const (
	defaultTimeout    = 15 * time.Second
	defaultRatePerMin = 12
	defaultUserAgent  = "matchwatch/1.0"

	// maxBody guards against a misbehaving upstream streaming forever.
	maxBody = 4 << 20
)

var ErrUpstreamStatus = errors.New("upstream status")

type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RatePerMin int
	UserAgent  string
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("hltv: base_url is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RatePerMin <= 0 {
		cfg.RatePerMin = defaultRatePerMin
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		// Burst of 2 lets a matches+results pair go out back to back.
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RatePerMin)/60.0), 2),
		log:     log,
	}, nil
}

// wire types

type wireMatch struct {
	ID        string `json:"id"`
	TeamA     string `json:"team_a"`
	TeamB     string `json:"team_b"`
	IsLive    bool   `json:"is_live"`
	StartUnix int64  `json:"start_unix,omitempty"` // 0 = no resolvable time
	TBD       bool   `json:"tbd,omitempty"`
	BestOf    int    `json:"best_of,omitempty"`
}

type wireMapScore struct {
	Name   string `json:"name"`
	ScoreA int    `json:"score_a"`
	ScoreB int    `json:"score_b"`
}

type wirePlayerRow struct {
	Name   string  `json:"name"`
	Team   string  `json:"team"`
	Kills  int     `json:"kills"`
	Deaths int     `json:"deaths"`
	Rating float64 `json:"rating"`
}

type wireMapDetail struct {
	Map  string          `json:"map"`
	Rows []wirePlayerRow `json:"rows"`
}

type wireResult struct {
	ID     string          `json:"id"`
	TeamA  string          `json:"team_a"`
	TeamB  string          `json:"team_b"`
	ScoreA int             `json:"score_a"`
	ScoreB int             `json:"score_b"`
	Maps   []wireMapScore  `json:"maps,omitempty"`
	Detail []wireMapDetail `json:"detail,omitempty"`
}

func (c *Client) FetchMatches(ctx context.Context, eventID string) ([]watch.Match, error) {
	var wire []wireMatch
	if err := c.getJSON(ctx, fmt.Sprintf("/events/%s/matches", eventID), &wire); err != nil {
		return nil, err
	}
	out := make([]watch.Match, 0, len(wire))
	for _, m := range wire {
		var scheduled time.Time
		if m.StartUnix > 0 {
			scheduled = time.Unix(m.StartUnix, 0)
		}
		out = append(out, watch.Match{
			ID:         m.ID,
			TeamA:      m.TeamA,
			TeamB:      m.TeamB,
			IsLive:     m.IsLive,
			Scheduled:  scheduled,
			TBD:        m.TBD,
			MapsFormat: m.BestOf,
		})
	}
	return out, nil
}

func (c *Client) FetchResults(ctx context.Context, eventID string) ([]watch.Result, error) {
	var wire []wireResult
	if err := c.getJSON(ctx, fmt.Sprintf("/events/%s/results", eventID), &wire); err != nil {
		return nil, err
	}
	out := make([]watch.Result, 0, len(wire))
	for _, r := range wire {
		res := watch.Result{
			ID:     r.ID,
			TeamA:  r.TeamA,
			TeamB:  r.TeamB,
			ScoreA: r.ScoreA,
			ScoreB: r.ScoreB,
		}
		for _, ms := range r.Maps {
			res.Maps = append(res.Maps, watch.MapResult{Name: ms.Name, ScoreA: ms.ScoreA, ScoreB: ms.ScoreB})
		}
		for _, md := range r.Detail {
			detail := watch.MapDetail{Map: md.Map}
			for _, row := range md.Rows {
				detail.Rows = append(detail.Rows, watch.PlayerRow{
					Name: row.Name, Team: row.Team,
					Kills: row.Kills, Deaths: row.Deaths, Rating: row.Rating,
				})
			}
			res.Detail = append(res.Detail, detail)
		}
		out = append(out, res)
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	// Wait for the request budget before touching the upstream at all.
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	url := c.cfg.BaseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	c.log.Debug("upstream request",
		logx.String("path", path), logx.Int("status", resp.StatusCode),
		logx.Duration("took", time.Since(start)))

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return fmt.Errorf("%w: %s %s", ErrUpstreamStatus, resp.Status, path)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}
