package math

import "math"

// Common angular and tolerance constants.
const (
	TwoPi   = 2 * math.Pi
	PiOver2 = math.Pi / 2

	Epsilon1  = 0.1
	Epsilon7  = 1e-7
	Epsilon12 = 1e-12
)

// Lerp returns the linear interpolation between a and b at t.
func Lerp(a, b, t float64) float64 {
	return (1-t)*a + t*b
}

// Clamp restricts v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SignNotZero returns 1 for v >= 0 and -1 otherwise.
func SignNotZero(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

// EqualsEpsilon reports whether a and b are within an absolute or relative epsilon.
func EqualsEpsilon(a, b, epsilon float64) bool {
	diff := math.Abs(a - b)
	return diff <= epsilon || diff <= epsilon*math.Max(math.Abs(a), math.Abs(b))
}

// ZeroToTwoPi wraps an angle into [0, 2π).
func ZeroToTwoPi(angle float64) float64 {
	mod := math.Mod(angle, TwoPi)
	if mod < 0 {
		mod += TwoPi
	}
	return mod
}

// NegativePiToPi wraps an angle into [-π, π].
func NegativePiToPi(angle float64) float64 {
	if angle >= -math.Pi && angle <= math.Pi {
		return angle
	}
	return ZeroToTwoPi(angle+math.Pi) - math.Pi
}

// ToRadians converts degrees to radians.
func ToRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}
