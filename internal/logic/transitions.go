package logic

import "time"

type transitionKey struct {
	from  DeviceState
	event EventType
}

// transitions is the complete set of legal moves. Riding and Charging are
// only reachable from Parked.
var transitions = map[transitionKey]DeviceState{
	{StateParked, EventRideDetected}:     StateRiding,
	{StateParked, EventChargeDetected}:   StateCharging,
	{StateParked, EventManualStart}:      StateRiding,
	{StateCharging, EventChargeFinished}: StateParked,
	{StateRiding, EventIdleTimeout}:      StateParked,
	{StateRiding, EventManualStop}:       StateParked,
}

// Next returns the state reached from `from` on event, and false if the
// move is not legal.
func Next(from DeviceState, event EventType) (DeviceState, bool) {
	to, ok := transitions[transitionKey{from, event}]
	return to, ok
}

// Request builds a TransitionRequest for event if the table allows it.
func Request(from DeviceState, event EventType, now time.Time) *TransitionRequest {
	to, ok := Next(from, event)
	if !ok {
		return nil
	}
	return &TransitionRequest{Event: event, From: from, To: to, Timestamp: now}
}
