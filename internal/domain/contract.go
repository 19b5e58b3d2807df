package domain

import (
	"sort"
	"time"
)

// Uncategorized is the category assigned when a source provides none.
const Uncategorized = "Uncategorized"

// ContractKey is the unique identity of a contract across all sources.
type ContractKey struct {
	ExternalID string
	Market     Market
}

func (k ContractKey) String() string { return string(k.Market) + ":" + k.ExternalID }

// GenericContract is the normalized, source-agnostic contract record emitted
// by discovery. CurrentPrice is always a probability in [0,1].
type GenericContract struct {
	ExternalID   string    `json:"externalId"`
	Market       Market    `json:"market"`
	Title        string    `json:"title"`
	CurrentPrice float64   `json:"currentPrice"`
	Category     string    `json:"category"`
	LastUpdated  time.Time `json:"lastUpdated"`
}

// Key returns the composite store key.
func (g GenericContract) Key() ContractKey {
	return ContractKey{ExternalID: g.ExternalID, Market: g.Market}
}

// PricePoint is one observation in a contract's price history.
type PricePoint struct {
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// Contract is the persistent contract entity.
type Contract struct {
	GenericContract
	IsDisplayed    bool         `json:"isDisplayed"`
	IsFollowed     bool         `json:"isFollowed"`
	PriceHistory   []PricePoint `json:"priceHistory"`
	LastAlertPrice *float64     `json:"lastAlertPrice,omitempty"`
	LastAlertTime  *time.Time   `json:"lastAlertTime,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// HasAlertBaseline reports whether a big-move baseline has been seeded.
func (c *Contract) HasAlertBaseline() bool {
	return c.LastAlertPrice != nil && c.LastAlertTime != nil
}

// PriceAt returns the most recent history price observed at or before t.
func (c *Contract) PriceAt(t time.Time) (float64, bool) {
	var (
		price float64
		found bool
	)
	for _, p := range c.PriceHistory {
		if p.Timestamp.After(t) {
			break
		}
		price, found = p.Price, true
	}
	return price, found
}

// OldestPriceSince returns the first history price at or after since.
func (c *Contract) OldestPriceSince(since time.Time) (float64, bool) {
	for _, p := range c.PriceHistory {
		if !p.Timestamp.Before(since) {
			return p.Price, true
		}
	}
	return 0, false
}

// SortHistory orders history by timestamp, oldest first. Equal timestamps
// keep their relative order.
func SortHistory(h []PricePoint) {
	sort.SliceStable(h, func(i, j int) bool { return h[i].Timestamp.Before(h[j].Timestamp) })
}

// PruneHistory drops history entries older than cutoff. The input must be
// sorted; the returned slice shares its backing array.
func PruneHistory(h []PricePoint, cutoff time.Time) []PricePoint {
	i := sort.Search(len(h), func(i int) bool { return !h[i].Timestamp.Before(cutoff) })
	return h[i:]
}

// ContractFilter selects contracts in Find queries. Nil fields are ignored.
type ContractFilter struct {
	Market    *Market
	Followed  *bool
	Displayed *bool
	Category  *string
	Limit     int
	Offset    int
}

// ContractPatch carries operator-controlled changes. Nil fields are left
// untouched.
type ContractPatch struct {
	Followed  *bool
	Displayed *bool
	Category  *string
}
