// Package storage реализует атомарные снапшоты состояния симуляторов.
//
// Один файл на биржу: {dir}/{venue}_state.json. Запись идёт через
// временный файл с последующим rename - читатель никогда не увидит
// частично записанный снапшот.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"arbsim/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store - каталог снапшотов
type Store struct {
	dir string
	mu  sync.Mutex // сериализует запись против чтения
}

// NewStore создаёт хранилище, при необходимости создавая каталог
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &models.SnapshotError{Path: dir, Err: err}
	}
	return &Store{dir: dir}, nil
}

// Path возвращает путь к файлу состояния биржи
func (s *Store) Path(venue string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_state.json", venue))
}

// Exists сообщает, есть ли на диске снапшот для биржи
func (s *Store) Exists(venue string) bool {
	_, err := os.Stat(s.Path(venue))
	return err == nil
}

// Save сериализует state и атомарно заменяет файл снапшота
func (s *Store) Save(venue string, state interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	err := s.save(venue, state)
	SnapshotWriteLatency.Observe(float64(time.Since(start).Microseconds()) / 1000)
	if err != nil {
		SnapshotWrites.WithLabelValues(venue, "error").Inc()
		return err
	}
	SnapshotWrites.WithLabelValues(venue, "ok").Inc()
	return nil
}

func (s *Store) save(venue string, state interface{}) error {
	path := s.Path(venue)
	data, err := json.MarshalIndent(state, "", "    ")
	if err != nil {
		return &models.SnapshotError{Venue: venue, Path: path, Err: err}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &models.SnapshotError{Venue: venue, Path: path, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		return &models.SnapshotError{Venue: venue, Path: path, Err: err}
	}
	return nil
}

// Load читает снапшот биржи в state
func (s *Store) Load(venue string, state interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(venue)
	data, err := os.ReadFile(path)
	if err != nil {
		return &models.SnapshotError{Venue: venue, Path: path, Err: err}
	}
	if err := json.Unmarshal(data, state); err != nil {
		return &models.SnapshotError{Venue: venue, Path: path, Err: err}
	}
	return nil
}
