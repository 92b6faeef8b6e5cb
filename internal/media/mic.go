package media

import (
	"sync"

	"github.com/skobkin/carlinkgo/internal/protocol"
)

// DefaultMicChunk is 20 ms of 16 kHz mono audio.
const DefaultMicChunk = 320

// Sender is the outbound half of the driver.
type Sender interface {
	Send(msg protocol.SendableMessage) error
}

// MicForwarder batches captured 16 kHz mono samples into AudioData frames.
// Samples written while the forwarder is stopped are discarded.
type MicForwarder struct {
	sender Sender
	chunk  int

	mu      sync.Mutex
	active  bool
	pending []int16
	sent    uint64
}

func NewMicForwarder(sender Sender, chunk int) *MicForwarder {
	if chunk <= 0 {
		chunk = DefaultMicChunk
	}
	return &MicForwarder{sender: sender, chunk: chunk}
}

func (m *MicForwarder) Start() {
	m.mu.Lock()
	m.active = true
	m.mu.Unlock()
}

// Stop flushes any partial chunk and stops forwarding.
func (m *MicForwarder) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return nil
	}
	m.active = false
	return m.flushLocked()
}

func (m *MicForwarder) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Frames is the number of AudioData frames sent so far.
func (m *MicForwarder) Frames() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent
}

// Write queues samples and sends every complete chunk.
func (m *MicForwarder) Write(samples []int16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return nil
	}

	m.pending = append(m.pending, samples...)
	for len(m.pending) >= m.chunk {
		if err := m.sendLocked(m.pending[:m.chunk]); err != nil {
			return err
		}
		m.pending = m.pending[m.chunk:]
	}
	if len(m.pending) == 0 {
		m.pending = nil
	}
	return nil
}

func (m *MicForwarder) flushLocked() error {
	if len(m.pending) == 0 {
		return nil
	}
	err := m.sendLocked(m.pending)
	m.pending = nil
	return err
}

func (m *MicForwarder) sendLocked(samples []int16) error {
	out := make([]int16, len(samples))
	copy(out, samples)
	if err := m.sender.Send(protocol.SendAudio{Samples: out}); err != nil {
		return err
	}
	m.sent++
	return nil
}
