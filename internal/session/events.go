package session

import (
	"github.com/humanoid-lab/motion-bridge/internal/motion"
	"github.com/humanoid-lab/motion-bridge/internal/protocol"
)

// Events from the three input sources (user, generation backend, executor
// feedback) are merged into one ordered stream consumed by the controller
// loop. Nothing outside that loop touches session state.
type event interface {
	isEvent()
}

// textEvent is a user prompt that starts (or supersedes) a generation.
type textEvent struct {
	Text string
}

// commandEvent is a named user command such as "default" or "last".
type commandEvent struct {
	Name string
}

// generationEvent carries the outcome of one Generate call. Seq identifies
// the call; outcomes whose Seq is not the newest are stale and dropped.
type generationEvent struct {
	Seq  uint64
	Clip motion.RawClip
	Err  error
}

// feedbackEvent wraps a datagram event from the executor. ForID is the
// record active at the moment the event was received; completion events are
// correlated against it, not against the record current at dispatch time,
// so a late completion for a superseded clip can never be attributed to its
// successor.
type feedbackEvent struct {
	Event protocol.Event
	ForID string
}

func (textEvent) isEvent()       {}
func (commandEvent) isEvent()    {}
func (generationEvent) isEvent() {}
func (feedbackEvent) isEvent()   {}

// User command names understood by the controller.
const (
	CmdDefault = "default"
	CmdLast    = "last"
	CmdList    = "list"
	CmdClear   = "clear"
	CmdStatus  = "status"
	CmdUp      = "up"
)
