package domain

// RawContract is a contract exactly as one source reported it, before unit
// conversion and defaulting. Each implementation carries only its source's
// native fields; the unexported marker method closes the set.
type RawContract interface {
	Source() Market
	rawContract()
}

// KalshiRaw is a Kalshi market. YesBid is in cents.
type KalshiRaw struct {
	Ticker   string
	Title    string
	Category string
	YesBid   *float64
}

// PredictItRaw is one contract within a PredictIt market. LastTradePrice is
// already a probability.
type PredictItRaw struct {
	ContractID     string
	ContractName   string
	MarketName     string
	LastTradePrice *float64
}

// PolymarketRaw is a Polymarket CLOB market. OutcomePrices are
// probabilities, index 0 being the primary ("Yes") outcome.
type PolymarketRaw struct {
	ConditionID   string
	Question      string
	Category      string
	OutcomePrices []float64
}

// ManifoldRaw is a Manifold binary market. Probability is already in [0,1].
type ManifoldRaw struct {
	ID          string
	Question    string
	Category    string
	Probability *float64
}

func (KalshiRaw) Source() Market     { return MarketKalshi }
func (PredictItRaw) Source() Market  { return MarketPredictIt }
func (PolymarketRaw) Source() Market { return MarketPolymarket }
func (ManifoldRaw) Source() Market   { return MarketManifold }

func (KalshiRaw) rawContract()     {}
func (PredictItRaw) rawContract()  {}
func (PolymarketRaw) rawContract() {}
func (ManifoldRaw) rawContract()   {}
