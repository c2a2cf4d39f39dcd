package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/friendbet/internal/domain"
)

// Embed colours by event type.
const (
	colourMarket  = 0x9b59b6
	colourOpen    = 0xf1c40f
	colourSettled = 0x3498db
	colourClaimed = 0x2ecc71
	colourClosed  = 0x95a5a6
)

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Colour      int            `json:"color,omitempty"`
	Fields      []discordField `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

// DiscordSender posts bet notifications to a Discord webhook as embeds.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordSender) Name() string { return "discord" }

// Send posts a plain embed with title and message as its description.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return d.post(ctx, discordEmbed{Title: title, Description: message})
}

// SendEvent posts ev as an embed with one field per bet attribute.
func (d *DiscordSender) SendEvent(ctx context.Context, ev domain.BetEvent) error {
	return d.post(ctx, eventEmbed(ev))
}

func eventEmbed(ev domain.BetEvent) discordEmbed {
	title, _ := FormatEvent(ev)
	e := discordEmbed{Title: title, Colour: eventColour(ev.Type)}
	if !ev.At.IsZero() {
		e.Timestamp = ev.At.UTC().Format(time.RFC3339)
	}

	add := func(name, value string, inline bool) {
		e.Fields = append(e.Fields, discordField{Name: name, Value: value, Inline: inline})
	}
	if !ev.BetID.IsZero() {
		add("Bet", ev.BetID.String(), true)
	}
	add("Market", string(ev.MarketID), true)
	if ev.Amount != 0 {
		add("Amount", FormatAmount(ev.Amount), true)
	}
	if ev.Fee != 0 {
		add("Fee", FormatAmount(ev.Fee), true)
	}
	if s := ev.Settlement; s != nil {
		add("Asset", s.AssetName, true)
		add("Price", fmt.Sprintf("%s vs %d (%s)", formatRawPrice(s.RawPrice, s.Exponent), s.Threshold, s.Direction), false)
		add("Winner", s.Winner.Hex(), false)
	}
	add("By", ev.Actor.Hex(), false)
	return e
}

func eventColour(t domain.EventType) int {
	switch t {
	case domain.EventMarketInitialized:
		return colourMarket
	case domain.EventBetSettled:
		return colourSettled
	case domain.EventBetClaimed:
		return colourClaimed
	case domain.EventBetClosed:
		return colourClosed
	}
	return colourOpen
}

func (d *DiscordSender) post(ctx context.Context, embed discordEmbed) error {
	body, err := json.Marshal(discordPayload{Embeds: []discordEmbed{embed}})
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	// 204 No Content on success
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

var _ EventSender = (*DiscordSender)(nil)
