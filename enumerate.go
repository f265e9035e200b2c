package kms

import (
	"fmt"

	"github.com/BeatGlow/kms/drm"
)

// Enumerate scans the device for connectors that are connected and report at least one
// mode, and resolves a display controller for each. New outputs are added to the
// manager's collection; outputs found by an earlier call are kept as they are.
//
// Candidates without a resolvable controller are skipped. If the device resources can not
// be queried, the result is empty.
func (m *Manager) Enumerate() []*Output {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		m.log.Warn("enumerate on closed manager")
		return nil
	}

	res, err := m.dev.Resources()
	if err != nil {
		m.log.Error("get resources failed", "error", err)
		return nil
	}

	var (
		live    = m.outputs[:0]
		known   = make(map[uint32]bool)
		claimed = make(map[uint32]bool)
	)
	for _, o := range m.outputs {
		if o.state == Released {
			continue
		}
		live = append(live, o)
		known[o.ConnectorID] = true
		claimed[o.CrtcID] = true
	}
	m.outputs = live

	for _, id := range res.Connectors {
		if known[id] {
			continue
		}

		conn, err := m.dev.Connector(id)
		if err != nil {
			m.log.Warn("get connector failed", "connector", id, "error", err)
			continue
		}
		if conn.Connection != drm.Connected || len(conn.Modes) == 0 {
			m.log.Debug("skipping connector", "connector", conn.Name(), "status", conn.Connection, "modes", len(conn.Modes))
			continue
		}

		encoderID, crtcID, err := m.resolveCrtc(res, conn, claimed)
		if err != nil {
			m.log.Warn("no controller for connector", "connector", conn.Name(), "error", err)
			continue
		}
		claimed[crtcID] = true

		o := newOutput(conn, encoderID, crtcID)
		m.log.Debug("found output", "connector", o.Name, "encoder", encoderID, "crtc", crtcID, "mode", o.Mode.String())
		m.outputs = append(m.outputs, o)
	}

	return append([]*Output(nil), m.outputs...)
}

// resolveCrtc returns the encoder and controller driving conn. The connector's current
// encoder and its controller are preferred; if there is none, or the controller is already
// claimed by another output, the first free controller one of the connector's encoders can
// drive is used.
func (m *Manager) resolveCrtc(res *drm.Resources, conn *drm.Connector, claimed map[uint32]bool) (encoderID, crtcID uint32, err error) {
	if conn.EncoderID != 0 {
		enc, err := m.dev.Encoder(conn.EncoderID)
		if err != nil {
			return 0, 0, fmt.Errorf("kms: get encoder %d: %w", conn.EncoderID, err)
		}
		if enc.CrtcID != 0 && !claimed[enc.CrtcID] {
			return enc.ID, enc.CrtcID, nil
		}
	}

	for _, id := range conn.Encoders {
		enc, err := m.dev.Encoder(id)
		if err != nil {
			m.log.Debug("get encoder failed", "connector", conn.Name(), "encoder", id, "error", err)
			continue
		}
		for i, crtcID := range res.Crtcs {
			if i >= 32 || enc.PossibleCrtcs&(1<<uint(i)) == 0 || claimed[crtcID] {
				continue
			}
			return enc.ID, crtcID, nil
		}
	}

	return 0, 0, ErrNoController
}
