package timeline

// Resolution результат поиска ближайшего кадра
type Resolution struct {
	Index       int
	ElapsedTime float64
	ProfileTime float64
}

// Resolve находит индекс события, ближайшего к target, начиная поиск с seed.
//
// Запросы при перемотке локальны, поэтому используется направленный линейный
// обход от предыдущего результата: плавное перетаскивание стоит O(1), большой
// прыжок стоит O(расстояния), края обрабатываются сразу.
// При равном расстоянии выбирается событие с меньшим индексом.
// ok == false, если событий нет.
func Resolve(store Store, target float64, seed int) (res Resolution, ok bool) {
	count := store.EventCount()
	if count == 0 {
		return Resolution{}, false
	}

	first := eventAt(store, 0)
	last := eventAt(store, count-1)

	switch {
	case target <= first.ElapsedTime:
		// Нижний край отдаёт индекс 1, а не 0 (совместимость с исходным поведением)
		return resolutionAt(store, min(1, count-1)), true
	case target >= last.ElapsedTime:
		return resolutionAt(store, count-1), true
	}

	if seed < 0 {
		seed = 0
	} else if seed > count-1 {
		seed = count - 1
	}

	i := seed
	if eventAt(store, i).ElapsedTime > target {
		// first.ElapsedTime < target, значит обход остановится не ниже 1
		for i > 0 {
			lo := eventAt(store, i-1)
			if lo.ElapsedTime <= target {
				return resolutionAt(store, closer(lo, eventAt(store, i), target, i-1)), true
			}
			i--
		}
	} else {
		// last.ElapsedTime > target, значит пара найдётся до конца
		for i < count-1 {
			hi := eventAt(store, i+1)
			if hi.ElapsedTime >= target {
				return resolutionAt(store, closer(eventAt(store, i), hi, target, i)), true
			}
			i++
		}
	}

	return resolutionAt(store, i), true
}

// closer выбирает ближайший конец пары [lo, lo+1]; при равенстве lo
func closer(lo, hi Event, target float64, loIndex int) int {
	if hi.ElapsedTime-target < target-lo.ElapsedTime {
		return loIndex + 1
	}
	return loIndex
}

// eventAt используется только с уже проверенными индексами
func eventAt(store Store, index int) Event {
	ev, _ := store.Event(index)
	return ev
}

func resolutionAt(store Store, index int) Resolution {
	ev := eventAt(store, index)
	return Resolution{Index: index, ElapsedTime: ev.ElapsedTime, ProfileTime: ev.ProfileTime}
}

// ClampIndex ограничивает index диапазоном [0, count-1]
func ClampIndex(index, count int) int {
	if index < 0 || count == 0 {
		return 0
	}
	if index > count-1 {
		return count - 1
	}
	return index
}
