package pipeline

import (
	"fmt"
	"time"
)

// Stage is a state of the offload state machine. Stages advance strictly in
// declaration order; any failure jumps to StageTornDown.
type Stage int

const (
	StageInit Stage = iota
	StageDeviceSelected
	StageContextReady
	StageProgramBuilt
	StageBuffersAllocated
	StageInputUploaded
	StageDispatched
	StageOutputDownloaded
	StageTornDown
)

var stageNames = [...]string{
	StageInit:             "Init",
	StageDeviceSelected:   "DeviceSelected",
	StageContextReady:     "ContextReady",
	StageProgramBuilt:     "ProgramBuilt",
	StageBuffersAllocated: "BuffersAllocated",
	StageInputUploaded:    "InputUploaded",
	StageDispatched:       "Dispatched",
	StageOutputDownloaded: "OutputDownloaded",
	StageTornDown:         "TornDown",
}

func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// StageEvent reports a completed transition.
type StageEvent struct {
	Stage Stage
	At    time.Time
	// Elapsed is the time spent reaching Stage from the previous one.
	Elapsed time.Duration
	// Err is set on the TornDown event of a failed run.
	Err error
}

// Observer receives every stage transition in order.
type Observer func(StageEvent)
