package models

// Place is one deduplicated result of a nearby support-centre lookup, sorted
// by Distance from the query point.
type Place struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Address  string  `json:"address"`
	Phone    string  `json:"phone,omitempty"`
	Opening  string  `json:"opening,omitempty"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Distance float64 `json:"distance"`
}
