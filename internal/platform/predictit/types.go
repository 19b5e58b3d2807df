package predictit

import "encoding/json"

type allMarketsResponse struct {
	Markets []json.RawMessage `json:"markets"`
}

type apiMarket struct {
	ID        int64         `json:"id"`
	Name      string        `json:"name"`
	ShortName string        `json:"shortName"`
	URL       string        `json:"url"`
	Status    string        `json:"status"`
	Contracts []apiContract `json:"contracts"`
}

type apiContract struct {
	ID             int64    `json:"id"`
	Name           string   `json:"name"`
	ShortName      string   `json:"shortName"`
	Status         string   `json:"status"`
	LastTradePrice *float64 `json:"lastTradePrice"`
	BestBuyYesCost *float64 `json:"bestBuyYesCost"`
}
