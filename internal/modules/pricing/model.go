// README: Fare rate definition per ride type and the resulting estimate.
package pricing

// Rate is a linear fare schedule: BaseFare covers the first FreeKm, then PerKm applies.
// Amounts are in the currency's major unit; display rounding is the caller's concern.
type Rate struct {
	RideType string  `json:"ride_type"`
	BaseFare float64 `json:"base_fare"`
	FreeKm   float64 `json:"free_km"`
	PerKm    float64 `json:"per_km"`
	Currency string  `json:"currency"`
}

const DefaultRideType = "boda"

// DefaultRate is the motorcycle-taxi schedule used when no rate is configured.
var DefaultRate = Rate{
	RideType: DefaultRideType,
	BaseFare: 50,
	FreeKm:   1,
	PerKm:    10,
	Currency: "KES",
}

type FareEstimate struct {
	Amount    float64            `json:"amount"`
	Currency  string             `json:"currency"`
	RideType  string             `json:"ride_type"`
	Breakdown map[string]float64 `json:"breakdown"`
}
