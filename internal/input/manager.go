package input

import (
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
)

// Action is something the interactive host does in response to a key
type Action int

const (
	ActionNone Action = iota
	ActionTrigger
	ActionTogglePause
	ActionKillAll
	ActionCleanup
	ActionQuit
)

var digitKeys = [...]ebiten.Key{
	ebiten.KeyDigit1, ebiten.KeyDigit2, ebiten.KeyDigit3,
	ebiten.KeyDigit4, ebiten.KeyDigit5, ebiten.KeyDigit6,
	ebiten.KeyDigit7, ebiten.KeyDigit8, ebiten.KeyDigit9,
}

var actionKeys = map[ebiten.Key]Action{
	ebiten.KeyP:      ActionTogglePause,
	ebiten.KeyK:      ActionKillAll,
	ebiten.KeyC:      ActionCleanup,
	ebiten.KeyEscape: ActionQuit,
}

// Event is one key press translated into an action. Slot is the zero-based
// trigger slot for ActionTrigger.
type Event struct {
	Action Action
	Slot   int
}

// Manager handles keyboard input for the host
type Manager struct {
	keys     map[ebiten.Key]bool
	prevKeys map[ebiten.Key]bool
	clicked  bool
}

// NewManager creates a new input manager
func NewManager() *Manager {
	return &Manager{
		keys:     make(map[ebiten.Key]bool),
		prevKeys: make(map[ebiten.Key]bool),
	}
}

// Update samples the watched keys once per frame
func (m *Manager) Update() {
	for k, v := range m.keys {
		m.prevKeys[k] = v
	}
	for _, k := range digitKeys {
		m.keys[k] = ebiten.IsKeyPressed(k)
	}
	for k := range actionKeys {
		m.keys[k] = ebiten.IsKeyPressed(k)
	}
	m.clicked = inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonLeft)
}

// IsKeyPressed returns true if the key is currently held
func (m *Manager) IsKeyPressed(key ebiten.Key) bool {
	return m.keys[key]
}

// IsKeyJustPressed returns true if the key went down this frame
func (m *Manager) IsKeyJustPressed(key ebiten.Key) bool {
	return m.keys[key] && !m.prevKeys[key]
}

// Clicked reports a left click this frame. The host treats it like pressing 1.
func (m *Manager) Clicked() bool {
	return m.clicked
}

// Events returns the actions pressed this frame, triggers first
func (m *Manager) Events() []Event {
	var events []Event
	for i, k := range digitKeys {
		if m.IsKeyJustPressed(k) {
			events = append(events, Event{Action: ActionTrigger, Slot: i})
		}
	}
	if m.clicked {
		events = append(events, Event{Action: ActionTrigger, Slot: 0})
	}
	for _, k := range []ebiten.Key{ebiten.KeyP, ebiten.KeyK, ebiten.KeyC, ebiten.KeyEscape} {
		if m.IsKeyJustPressed(k) {
			events = append(events, Event{Action: actionKeys[k]})
		}
	}
	return events
}
