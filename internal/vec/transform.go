package vec

// Transform положение объекта сцены. Rotation задаётся углами Эйлера в градусах.
type Transform struct {
	Location Vec3 `json:"location"`
	Rotation Vec3 `json:"rotation"`
	Scale    Vec3 `json:"scale"`
}

// Identity возвращает нулевое преобразование с единичным масштабом
func Identity() Transform {
	return Transform{Scale: One}
}

// Lerp покомпонентная интерполяция двух преобразований
func (t Transform) Lerp(other Transform, alpha float64) Transform {
	return Transform{
		Location: t.Location.Lerp(other.Location, alpha),
		Rotation: t.Rotation.Lerp(other.Rotation, alpha),
		Scale:    t.Scale.Lerp(other.Scale, alpha),
	}
}

// Equals проверяет точное равенство
func (t Transform) Equals(other Transform) bool {
	return t.Location.Equals(other.Location) && t.Rotation.Equals(other.Rotation) && t.Scale.Equals(other.Scale)
}
