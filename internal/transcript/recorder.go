// Package transcript mirrors logged rooms into a durable log.
package transcript

import (
	"parley/pkg/interfaces"
	"parley/pkg/types"
)

// Recorder is the room listener attached to every logged room. The room
// itself knows nothing about persistence; the recorder only forwards.
type Recorder struct {
	log interfaces.DurableLog
}

// NewRecorder wraps a durable log.
func NewRecorder(log interfaces.DurableLog) *Recorder {
	return &Recorder{log: log}
}

func (r *Recorder) OnNewRoom(room types.RoomInfo) {
	r.log.AppendRoom(room)
}

func (r *Recorder) OnMessage(msg types.Message, _ types.RoomInfo) {
	r.log.AppendMessage(msg)
}

func (r *Recorder) OnReaction(reaction types.Reaction, _ types.RoomInfo) {
	r.log.AppendReaction(reaction)
}

// IsActive is always true; the recorder lives as long as the process.
func (r *Recorder) IsActive() bool { return true }
