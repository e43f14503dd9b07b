// Package protocol defines the datagram wire messages exchanged with the
// motion-execution process. Text commands and events are parsed at the
// transport boundary; everything above it operates on the typed variants.
package protocol

import (
	"fmt"
	"strings"
)

const (
	loadPrefix             = "LOAD:"
	defaultCommand         = "default"
	startUprightMonitoring = "START_UPRIGHT_MONITORING"

	motionCompleteEvent = "MOTION_COMPLETE"
	uprightSuccessEvent = "UPRIGHT_SUCCESS"
)

// Command is a closed set of messages sent to the execution process.
type Command interface {
	isCommand()
}

// CommandLoad asks the executor to blend into the clip stored under ID.
type CommandLoad struct {
	ID string
}

// CommandDefault asks the executor to return to its default pose.
type CommandDefault struct{}

// CommandStartUprightMonitoring asks the executor to watch for an upright
// pose during a get-up motion.
type CommandStartUprightMonitoring struct{}

// CommandLoadAsset loads a pre-installed clip by bare asset name, e.g. the
// get-up motion. The executor distinguishes it from LOAD:<id> by the missing
// prefix.
type CommandLoadAsset struct {
	Name string
}

func (CommandLoad) isCommand()                   {}
func (CommandDefault) isCommand()                {}
func (CommandStartUprightMonitoring) isCommand() {}
func (CommandLoadAsset) isCommand()              {}

// Event is a closed set of messages received from the execution process.
type Event interface {
	isEvent()
}

// EventMotionComplete signals that a loaded clip played to its final frame.
type EventMotionComplete struct{}

// EventUprightSuccess signals that the robot reached an upright pose.
type EventUprightSuccess struct{}

func (EventMotionComplete) isEvent() {}
func (EventUprightSuccess) isEvent() {}

// EncodeCommand renders a command into its wire form.
func EncodeCommand(cmd Command) (string, error) {
	switch c := cmd.(type) {
	case CommandLoad:
		if strings.TrimSpace(c.ID) == "" {
			return "", fmt.Errorf("load command with empty id")
		}
		return loadPrefix + c.ID, nil
	case CommandDefault:
		return defaultCommand, nil
	case CommandStartUprightMonitoring:
		return startUprightMonitoring, nil
	case CommandLoadAsset:
		if strings.TrimSpace(c.Name) == "" {
			return "", fmt.Errorf("asset load command with empty name")
		}
		return c.Name, nil
	default:
		return "", fmt.Errorf("unknown command type %T", cmd)
	}
}

// ParseEvent parses a feedback datagram. The second return is false for
// messages that are not part of the protocol; callers drop those.
func ParseEvent(raw string) (Event, bool) {
	switch strings.TrimSpace(raw) {
	case motionCompleteEvent:
		return EventMotionComplete{}, true
	case uprightSuccessEvent:
		return EventUprightSuccess{}, true
	default:
		return nil, false
	}
}
