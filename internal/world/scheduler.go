package world

import (
	"math/rand"
	"sync"
)

// Планировщик тика. Каждый тик состоит из четырёх фаз в строгом
// порядке: pre-update -> between-ticks -> ротация событий -> post-update.
// Системы внутри фазы могут исполняться параллельно, но не должны
// полагаться на результаты друг друга в рамках той же фазы.

// AddPreSystem регистрирует пользовательскую систему фазы pre-update.
// Системы этой фазы запускаются параллельно: они читают мир и публикуют
// события, но не мутируют хранилище.
func (w *World) AddPreSystem(s System) {
	w.preSystems = append(w.preSystems, s)
}

// AddPostSystem регистрирует пользовательскую систему фазы post-update.
// Системы этой фазы исполняются последовательно и видят результаты
// всех систем pre-update.
func (w *World) AddPostSystem(s System) {
	w.postSystems = append(w.postSystems, s)
}

// RunPreUpdate исполняет фазу pre-update. Барьер фазы гарантируется:
// функция возвращается после завершения всех систем.
func (w *World) RunPreUpdate() {
	if len(w.preSystems) == 0 {
		return
	}
	var wg sync.WaitGroup
	wg.Add(len(w.preSystems))
	for _, s := range w.preSystems {
		go func(s System) {
			defer wg.Done()
			s(w)
		}(s)
	}
	wg.Wait()
}

// RunBetweenTicks исполняет каркасные системы: назначение внешних
// идентификаторов сущностям, созданным без них, и поддержание
// пространственного индекса по трекерам позиции.
func (w *World) RunBetweenTicks() {
	assignMissingEntityIDs(w)
	applyPositionChanges(w)
	applyPositionRemovals(w)
}

// RunPostUpdate исполняет фазу post-update последовательно.
func (w *World) RunPostUpdate() {
	for _, s := range w.postSystems {
		s(w)
	}
}

// assignMissingEntityIDs назначает внешний идентификатор каждой
// сущности, созданной внутри мира без него, и синхронизирует карту
// идентичностей.
func assignMissingEntityIDs(w *World) {
	for h, types := range w.entities {
		if _, ok := types[w.entityIDType]; ok {
			continue
		}
		w.attach(h, w.entityIDType, EntityID{Value: rand.Uint64()})
	}
}
