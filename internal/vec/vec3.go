package vec

import "math"

// Vec3 трёхмерный вектор с плавающими координатами
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// One единичный масштаб
var One = Vec3{X: 1, Y: 1, Z: 1}

// Add складывает два вектора
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Sub вычитает вектор
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Mul умножает вектор на скаляр
func (v Vec3) Mul(scalar float64) Vec3 {
	return Vec3{X: v.X * scalar, Y: v.Y * scalar, Z: v.Z * scalar}
}

// Length возвращает длину вектора
func (v Vec3) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// DistanceTo возвращает расстояние до другой точки
func (v Vec3) DistanceTo(other Vec3) float64 {
	return v.Sub(other).Length()
}

// Lerp линейная интерполяция между v и other
func (v Vec3) Lerp(other Vec3, alpha float64) Vec3 {
	return v.Add(other.Sub(v).Mul(alpha))
}

// Equals проверяет равенство векторов
func (v Vec3) Equals(other Vec3) bool {
	return v.X == other.X && v.Y == other.Y && v.Z == other.Z
}
