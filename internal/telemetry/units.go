package telemetry

import "math"

const (
	KmToMi      = 0.621371
	KcalPerMile = 95
)

func KmToMiles(km float64) float64 {
	return km * KmToMi
}

// KmhToMph converts a speed, the factor is the same as for distance.
func KmhToMph(kmh float64) float64 {
	return kmh * KmToMi
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
