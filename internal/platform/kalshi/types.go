package kalshi

import "encoding/json"

// apiMarket is a market as returned by the Kalshi REST API. Prices are in
// cents; newer payloads add *_dollars string variants.
type apiMarket struct {
	Ticker        string   `json:"ticker"`
	EventTicker   string   `json:"event_ticker"`
	Title         string   `json:"title"`
	Subtitle      string   `json:"subtitle"`
	Status        string   `json:"status"`
	Category      string   `json:"category"`
	YesBid        *float64 `json:"yes_bid"`
	YesBidDollars string   `json:"yes_bid_dollars"`
	LastPrice     *float64 `json:"last_price"`
	Volume        int64    `json:"volume"`
	CloseTime     string   `json:"close_time"`
}

type marketsResponse struct {
	Markets []json.RawMessage `json:"markets"`
	Cursor  string            `json:"cursor"`
}

type marketResponse struct {
	Market *apiMarket `json:"market"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string `json:"token"`
	MemberID string `json:"member_id"`
}
