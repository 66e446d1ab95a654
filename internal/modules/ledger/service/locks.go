package service

import "sync"

// dayLocks мьютекс на каждый день: пересчёт читает весь список сделок,
// параллельная запись в тот же день потеряла бы сделку.
type dayLocks struct {
	m sync.Map
}

func (l *dayLocks) get(dateUnix int64) *sync.Mutex {
	lock, _ := l.m.LoadOrStore(dateUnix, &sync.Mutex{})
	return lock.(*sync.Mutex)
}
