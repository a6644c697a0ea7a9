// Package pairing remembers peripherals an extension has connected to.
//
// After a successful connect the CLI records the peripheral's advertised
// name together with the PIN used, if it was supplied by hand. A later
// connect to the same name reuses that PIN as the override, so devices
// outside the derivable naming convention only need their PIN typed once.
//
// Records are persisted as JSON. PINs are kept either in that file or, when
// a SecretStore is configured, in the OS keyring.
package pairing

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when no record exists for a peripheral.
var ErrNotFound = errors.New("remembered peripheral not found")

// PairedPeripheral is one remembered peripheral.
type PairedPeripheral struct {
	ExtensionID  string `json:"extension_id"`
	Name         string `json:"name"`
	PeripheralID string `json:"peripheral_id"`
	PIN          string `json:"pin,omitempty"`
	PairedAt     int64  `json:"paired_at"` // unix millis
}

// Key identifies the record in a SecretStore.
func (p PairedPeripheral) Key() string {
	return p.ExtensionID + "/" + p.Name
}

// Store is the persistent file layout.
type Store struct {
	Paired []PairedPeripheral `json:"paired"`
}

// SecretStore holds PINs outside the JSON file.
type SecretStore interface {
	Get(key string) (string, error)
	Set(key, secret string) error
	Delete(key string) error
}

// Service manages remembered peripherals.
type Service struct {
	storePath string
	store     Store
	secrets   SecretStore
	mu        sync.Mutex
}

// NewService creates a pairing service persisted at storePath
// (e.g., ~/.blelink/paired.json). secrets may be nil to keep PINs in the file.
func NewService(storePath string, secrets SecretStore) *Service {
	s := &Service{
		storePath: storePath,
		secrets:   secrets,
	}
	s.load()
	return s
}

// Remember records a peripheral after a successful connect. An empty pin
// means the PIN was derived and nothing secret is stored.
func (s *Service) Remember(extensionID, name, peripheralID, pin string) error {
	if name == "" {
		return fmt.Errorf("cannot remember peripheral %s without a name", peripheralID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := PairedPeripheral{
		ExtensionID:  extensionID,
		Name:         name,
		PeripheralID: peripheralID,
		PairedAt:     time.Now().UnixMilli(),
	}

	switch {
	case pin != "" && s.secrets != nil:
		if err := s.secrets.Set(rec.Key(), pin); err != nil {
			return fmt.Errorf("store pin for %s: %w", name, err)
		}
	case pin != "":
		rec.PIN = pin
	case s.secrets != nil:
		// a derived PIN replaces any override stored earlier
		if err := s.secrets.Delete(rec.Key()); err != nil {
			slog.Debug("pairing: no stored pin to delete", "key", rec.Key(), "error", err)
		}
	}

	replaced := false
	for i, p := range s.store.Paired {
		if p.ExtensionID == extensionID && p.Name == name {
			s.store.Paired[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		s.store.Paired = append(s.store.Paired, rec)
	}
	s.save()

	slog.Info("peripheral remembered",
		"extension", extensionID,
		"name", name,
		"peripheral", peripheralID,
	)
	return nil
}

// Lookup returns the remembered record for a peripheral name, with its PIN
// filled in from the secret store if one is configured.
func (s *Service) Lookup(extensionID, name string) (PairedPeripheral, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.store.Paired {
		if p.ExtensionID != extensionID || p.Name != name {
			continue
		}
		if s.secrets != nil && p.PIN == "" {
			pin, err := s.secrets.Get(p.Key())
			if err == nil {
				p.PIN = pin
			}
		}
		return p, true
	}
	return PairedPeripheral{}, false
}

// Forget removes a remembered peripheral and its stored PIN.
func (s *Service) Forget(extensionID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range s.store.Paired {
		if p.ExtensionID != extensionID || p.Name != name {
			continue
		}
		s.store.Paired = append(s.store.Paired[:i], s.store.Paired[i+1:]...)
		s.save()
		if s.secrets != nil {
			if err := s.secrets.Delete(p.Key()); err != nil {
				slog.Debug("pairing: no stored pin to delete", "key", p.Key(), "error", err)
			}
		}
		slog.Info("peripheral forgotten", "extension", extensionID, "name", name)
		return nil
	}
	return fmt.Errorf("%w: %s/%s", ErrNotFound, extensionID, name)
}

// List returns all remembered peripherals, most recent first. PINs are not
// included.
func (s *Service) List() []PairedPeripheral {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]PairedPeripheral, len(s.store.Paired))
	copy(result, s.store.Paired)
	for i := range result {
		result[i].PIN = ""
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].PairedAt > result[j].PairedAt
	})
	return result
}

// --- Internal ---

func (s *Service) load() {
	data, err := os.ReadFile(s.storePath)
	if err != nil {
		return // file doesn't exist yet
	}
	if err := json.Unmarshal(data, &s.store); err != nil {
		slog.Warn("pairing: ignoring unreadable store", "path", s.storePath, "error", err)
	}
}

func (s *Service) save() {
	dir := filepath.Dir(s.storePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		slog.Error("pairing: failed to create dir", "error", err)
		return
	}
	data, err := json.MarshalIndent(s.store, "", "  ")
	if err != nil {
		slog.Error("pairing: failed to marshal store", "error", err)
		return
	}
	if err := os.WriteFile(s.storePath, data, 0600); err != nil {
		slog.Error("pairing: failed to write store", "error", err)
	}
}
