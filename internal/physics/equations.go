package physics

import "math"

// FindCollisionInterval решает задачу для одной оси: в какие моменты τ подвижный
// отрезок [minM, maxM], движущийся со скоростью v, перекрывается с неподвижным
// отрезком [minS, maxS].
//
// t и tPrime - накопленные по осям время входа и время выхода. Если время входа
// на этой оси не меньше t, ось становится определяющей (updated = true).
// При равенстве побеждает ось, проверенная позже.
// collided = false означает, что пересечения нет ни при каком τ.
func FindCollisionInterval(maxM, minM, maxS, minS, v float64, t, tPrime *float64) (collided, updated bool) {
	var entry, exit float64

	switch {
	case v > 0:
		if maxS <= minM {
			return false, false
		}
		entry = (minS - maxM) / v
		exit = (maxS - minM) / v
	case v < 0:
		if maxM <= minS {
			return false, false
		}
		entry = (maxS - minM) / v
		exit = (minS - maxM) / v
	default:
		// Ось неподвижна: зазор сейчас означает зазор всегда
		if maxM <= minS || maxS <= minM {
			return false, false
		}
		return true, false
	}

	if entry >= *t {
		*t = entry
		updated = true
	}
	*tPrime = math.Min(exit, *tPrime)

	return *t <= *tPrime, updated
}
