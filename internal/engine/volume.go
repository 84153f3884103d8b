package engine

import (
	"github.com/charmbracelet/log"
)

func clamp(volume float64) float64 {
	if volume < 0.0 {
		return 0.0
	} else if volume > 1.0 {
		return 1.0
	}
	return volume
}

// gain is the global multiplier every voice output passes through
func (e *Engine) gain() float64 {
	if e.muted {
		return 0
	}
	return e.playerVolume * e.systemVolume * e.editorVolume
}

// SetPlayerVolume sets the player volume modifier (0.0 to 1.0)
func (e *Engine) SetPlayerVolume(volume float64) {
	e.playerVolume = clamp(volume)
	log.Info("Player volume set", "volume", e.playerVolume)
}

// SetSystemVolume sets the system volume modifier (0.0 to 1.0)
func (e *Engine) SetSystemVolume(volume float64) {
	e.systemVolume = clamp(volume)
	log.Info("System volume set", "volume", e.systemVolume)
}

// SetEditorVolume sets the editor volume modifier (0.0 to 1.0)
func (e *Engine) SetEditorVolume(volume float64) {
	e.editorVolume = clamp(volume)
	log.Info("Editor volume set", "volume", e.editorVolume)
}

// SetMuted silences every voice without touching the modifiers
func (e *Engine) SetMuted(muted bool) {
	e.muted = muted
	if muted {
		log.Info("Audio muted")
	} else {
		log.Info("Audio unmuted")
	}
}

// IsMuted returns the current mute state
func (e *Engine) IsMuted() bool {
	return e.muted
}

// Volumes returns the player, system and editor modifiers
func (e *Engine) Volumes() (player, system, editor float64) {
	return e.playerVolume, e.systemVolume, e.editorVolume
}
