package polymarket

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/fpidot/pm-aggregator/internal/normalize"
)

// endCursor marks the last page of a CLOB listing.
const endCursor = "LTE="

// flexBool unmarshals from a JSON bool or a "true"/"false" string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexPrices accepts outcome prices as a JSON array of numbers, an array of
// decimal strings, or a JSON-encoded string holding either.
type flexPrices []float64

func (f *flexPrices) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = nil
		return nil
	}
	var encoded string
	if err := json.Unmarshal(data, &encoded); err == nil {
		if encoded == "" {
			*f = nil
			return nil
		}
		data = []byte(encoded)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("outcome prices: %w", err)
	}
	out := make([]float64, 0, len(items))
	for _, it := range items {
		var n float64
		if err := json.Unmarshal(it, &n); err == nil {
			out = append(out, n)
			continue
		}
		var s string
		if err := json.Unmarshal(it, &s); err != nil {
			return fmt.Errorf("outcome price %s: %w", it, err)
		}
		p, err := normalize.ParsePrice(s)
		if err != nil {
			return err
		}
		out = append(out, p)
	}
	*f = out
	return nil
}

// flexFloat accepts a JSON number or decimal string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return err
	}
	*f = flexFloat(n)
	return nil
}

type apiToken struct {
	TokenID string    `json:"token_id"`
	Outcome string    `json:"outcome"`
	Price   flexFloat `json:"price"`
}

// apiMarket is a CLOB market. The listing orders tokens as the outcomes,
// so tokens[0] is the primary outcome.
type apiMarket struct {
	ConditionID   string     `json:"condition_id"`
	ID            string     `json:"id"`
	Question      string     `json:"question"`
	MarketSlug    string     `json:"market_slug"`
	Active        flexBool   `json:"active"`
	Closed        flexBool   `json:"closed"`
	Archived      flexBool   `json:"archived"`
	Tags          []string   `json:"tags"`
	Category      string     `json:"category"`
	Tokens        []apiToken `json:"tokens"`
	OutcomePrices flexPrices `json:"outcomePrices"`
}

func (m apiMarket) externalID() string {
	if m.ConditionID != "" {
		return m.ConditionID
	}
	return m.ID
}

func (m apiMarket) category() string {
	if m.Category != "" {
		return m.Category
	}
	if len(m.Tags) > 0 {
		return m.Tags[0]
	}
	return ""
}

// prices returns the outcome prices, preferring token quotes.
func (m apiMarket) prices() []float64 {
	if len(m.Tokens) > 0 {
		out := make([]float64, len(m.Tokens))
		for i, t := range m.Tokens {
			out[i] = float64(t.Price)
		}
		return out
	}
	return m.OutcomePrices
}

func (m apiMarket) tradable() bool {
	return bool(m.Active) && !bool(m.Closed) && !bool(m.Archived)
}

// marketsPage keeps entries raw so each market decodes on its own.
type marketsPage struct {
	Data       []json.RawMessage `json:"data"`
	NextCursor string            `json:"next_cursor"`
	Count      int               `json:"count"`
}

type apiCredentials struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}
