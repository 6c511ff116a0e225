package gpu

import (
	"math"
	"math/rand"
)

// NewRand returns a generator seeded with seed.
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// Gaussian draws from N(mean, std^2) with the Box-Muller transform.
func Gaussian(rng *rand.Rand, mean, std float64) float64 {
	u1 := 1 - rng.Float64() // (0, 1], keeps the log finite
	u2 := rng.Float64()
	z := math.Sqrt(-2*math.Log(u1)) * math.Sin(2*math.Pi*u2)
	return mean + std*z
}

// Uniform draws from [-max, max].
func Uniform(rng *rand.Rand, max float64) float64 {
	return rng.Float64()*max*2 - max
}
