package peripheral

import (
	"encoding/json"
	"fmt"

	"github.com/nextlevelbuilder/blelink/internal/bridge"
	"github.com/nextlevelbuilder/blelink/pkg/protocol"
)

func (s *Session) registerNotifications() {
	s.router.Register(protocol.MethodDidDiscoverPeripheral, s.handleDidDiscoverPeripheral)
	s.router.Register(protocol.MethodUserDidPickPeripheral, s.handleUserDidPickPeripheral)
	s.router.Register(protocol.MethodUserDidNotPickPeripheral, s.handleUserDidNotPickPeripheral)
	s.router.Register(protocol.MethodDidReceiveMessage, s.handleDidReceiveMessage)
}

func (s *Session) handleDidDiscoverPeripheral(params json.RawMessage) (interface{}, error) {
	if err := s.upsertPeripheral(params); err != nil {
		return nil, err
	}
	s.emit(protocol.EventListUpdated, s.registry.Snapshot())
	return nil, nil
}

// handleUserDidPickPeripheral covers the bridge-side picker: the user chose
// a device in the bridge UI rather than from our list.
func (s *Session) handleUserDidPickPeripheral(params json.RawMessage) (interface{}, error) {
	if err := s.upsertPeripheral(params); err != nil {
		return nil, err
	}
	s.emit(protocol.EventUserPicked, s.registry.Snapshot())
	return nil, nil
}

func (s *Session) handleUserDidNotPickPeripheral(json.RawMessage) (interface{}, error) {
	s.timer.Cancel()
	s.log.Info("user declined peripheral selection")
	s.emit(protocol.EventScanTimeout, nil)
	return nil, nil
}

func (s *Session) handleDidReceiveMessage(params json.RawMessage) (interface{}, error) {
	if s.opts.OnMessage != nil {
		s.opts.OnMessage(params)
	}
	return nil, nil
}

func (s *Session) upsertPeripheral(params json.RawMessage) error {
	var rec PeripheralRecord
	if err := json.Unmarshal(params, &rec); err != nil {
		s.log.Warn("invalid peripheral record", "error", err)
		return fmt.Errorf("%w: %v", bridge.ErrInvalidParams, err)
	}
	s.registry.Put(rec)
	s.timer.Cancel()
	s.log.Debug("peripheral discovered", "peripheral", rec.ID, "name", rec.Name, "candidates", s.registry.Len())
	return nil
}
