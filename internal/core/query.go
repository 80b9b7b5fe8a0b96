package core

// Query is one search against the item source. A nil price bound means the
// bound is not applied.
type Query struct {
	Term        string `json:"query" yaml:"query"`
	Location    string `json:"location,omitempty" yaml:"location,omitempty"`
	MinPrice    *int   `json:"min_price,omitempty" yaml:"min_price,omitempty"`
	MaxPrice    *int   `json:"max_price,omitempty" yaml:"max_price,omitempty"`
	RadiusMiles int    `json:"radius_miles,omitempty" yaml:"radius_miles,omitempty"`
	Category    string `json:"category,omitempty" yaml:"category,omitempty"`
	Limit       int    `json:"limit,omitempty" yaml:"limit,omitempty"`
}
