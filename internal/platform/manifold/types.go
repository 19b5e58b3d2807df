package manifold

type apiMarket struct {
	ID          string   `json:"id"`
	Question    string   `json:"question"`
	Slug        string   `json:"slug"`
	OutcomeType string   `json:"outcomeType"`
	Probability *float64 `json:"probability"`
	IsResolved  bool     `json:"isResolved"`
	Volume      float64  `json:"volume"`
	GroupSlugs  []string `json:"groupSlugs"`
}

func (m apiMarket) category() string {
	if len(m.GroupSlugs) > 0 {
		return m.GroupSlugs[0]
	}
	return ""
}
