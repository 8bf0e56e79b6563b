package billing

import (
	"fmt"
	"sync"
)

// SequenceLocks serializa los pedidos de CAE por (negocio, punto de venta, tipo):
// AFIP exige que cada número sea el último autorizado + 1, así que dos pedidos
// concurrentes para la misma serie se pisarían.
type SequenceLocks struct {
	mu    sync.Mutex
	locks map[string]*sequenceLock
}

type sequenceLock struct {
	mu   sync.Mutex
	refs int
}

// NewSequenceLocks crea el registro vacío.
func NewSequenceLocks() *SequenceLocks {
	return &SequenceLocks{locks: make(map[string]*sequenceLock)}
}

// SequenceKey clave de la serie de numeración.
func SequenceKey(businessID string, pointOfSale, cbteTipo int) string {
	return fmt.Sprintf("%s/%d/%d", businessID, pointOfSale, cbteTipo)
}

// Lock bloquea la serie y devuelve la función que la libera. Las entradas sin
// usuarios se eliminan para que el mapa no crezca sin límite.
func (s *SequenceLocks) Lock(key string) (unlock func()) {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &sequenceLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// Len cantidad de series con usuarios (diagnóstico y tests).
func (s *SequenceLocks) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
