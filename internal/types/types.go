// README: Common identifiers and geographic value objects used across modules.
package types

type ID string

// Point is a bare latitude/longitude pair in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}
