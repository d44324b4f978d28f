package math

import "math"

const octRange = 255

// OctDecode decodes a two-component oct-encoded unit vector (each component 0..255).
func OctDecode(x, y uint8) Cartesian3 {
	rx := float64(x)/octRange*2 - 1
	ry := float64(y)/octRange*2 - 1
	rz := 1 - (math.Abs(rx) + math.Abs(ry))

	if rz < 0 {
		oldX := rx
		rx = (1 - math.Abs(ry)) * SignNotZero(oldX)
		ry = (1 - math.Abs(oldX)) * SignNotZero(ry)
	}
	return Cartesian3{rx, ry, rz}.Normalize()
}

// OctEncode encodes a unit vector into two components of 0..255.
func OctEncode(v Cartesian3) (uint8, uint8) {
	sum := math.Abs(v.X) + math.Abs(v.Y) + math.Abs(v.Z)
	if sum == 0 {
		return octToSNorm(0), octToSNorm(0)
	}
	px := v.X / sum
	py := v.Y / sum
	if v.Z < 0 {
		x, y := px, py
		px = (1 - math.Abs(y)) * SignNotZero(x)
		py = (1 - math.Abs(x)) * SignNotZero(y)
	}
	return octToSNorm(px), octToSNorm(py)
}

func octToSNorm(v float64) uint8 {
	return uint8(math.Round((Clamp(v, -1, 1)*0.5 + 0.5) * octRange))
}

// OctPackFloat packs two oct components into one float, 256*x + y.
func OctPackFloat(x, y uint8) float32 {
	return 256*float32(x) + float32(y)
}

// OctUnpackFloat reverses OctPackFloat.
func OctUnpackFloat(f float32) (uint8, uint8) {
	v := int(f)
	return uint8(v / 256), uint8(v % 256)
}
