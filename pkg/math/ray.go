package math

// Ray is a half-line with a unit direction.
type Ray struct {
	Origin    Cartesian3
	Direction Cartesian3
}

// At returns the point at parameter t along the ray.
func (r Ray) At(t float64) Cartesian3 {
	return r.Origin.Add(r.Direction.Scale(t))
}

// RayTriangle intersects a ray with triangle p0,p1,p2 (Möller–Trumbore). When cullBackFaces is set,
// triangles facing away from the ray (clockwise as seen from the origin) are ignored.
func RayTriangle(ray Ray, p0, p1, p2 Cartesian3, cullBackFaces bool) (Cartesian3, bool) {
	edge0 := p1.Sub(p0)
	edge1 := p2.Sub(p0)

	p := ray.Direction.Cross(edge1)
	det := edge0.Dot(p)

	var t float64
	if cullBackFaces {
		if det < Epsilon7 {
			return Cartesian3{}, false
		}
		tvec := ray.Origin.Sub(p0)
		u := tvec.Dot(p)
		if u < 0 || u > det {
			return Cartesian3{}, false
		}
		q := tvec.Cross(edge0)
		v := ray.Direction.Dot(q)
		if v < 0 || u+v > det {
			return Cartesian3{}, false
		}
		t = edge1.Dot(q) / det
	} else {
		if det > -Epsilon7 && det < Epsilon7 {
			return Cartesian3{}, false
		}
		invDet := 1 / det
		tvec := ray.Origin.Sub(p0)
		u := tvec.Dot(p) * invDet
		if u < 0 || u > 1 {
			return Cartesian3{}, false
		}
		q := tvec.Cross(edge0)
		v := ray.Direction.Dot(q) * invDet
		if v < 0 || u+v > 1 {
			return Cartesian3{}, false
		}
		t = edge1.Dot(q) * invDet
	}

	if t < 0 {
		return Cartesian3{}, false
	}
	return ray.At(t), true
}
