package types

import (
	"fmt"
	"strings"
)

// RunningDistance partitions waiting users into independent matching pools.
type RunningDistance string

const (
	KM1  RunningDistance = "KM1"
	KM3  RunningDistance = "KM3"
	KM5  RunningDistance = "KM5"
	KM10 RunningDistance = "KM10"
)

// Distances lists every supported category in the order the coordinator evaluates them.
var Distances = []RunningDistance{KM1, KM3, KM5, KM10}

func (d RunningDistance) Valid() bool {
	for _, v := range Distances {
		if v == d {
			return true
		}
	}
	return false
}

func ParseRunningDistance(s string) (RunningDistance, error) {
	d := RunningDistance(strings.ToUpper(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", fmt.Errorf("unsupported running distance %q", s)
	}
	return d, nil
}

type WaitingUser struct {
	ID       string          `json:"id"`
	Distance RunningDistance `json:"distance"`
}

type WaitingEvent string

const (
	EventConnect WaitingEvent = "CONNECT"
	EventMatched WaitingEvent = "MATCHED"
)

// Terminal reports whether the event ends a waiting stream.
func (e WaitingEvent) Terminal() bool { return e != EventConnect }

type StreamState string

const (
	StateAwaitingConnect StreamState = "AWAITING_CONNECT"
	StateConnected       StreamState = "CONNECTED"
	StateClosed          StreamState = "CLOSED"
)

type CreateWaitingRequest struct {
	Distance string `json:"distance"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type WaitingEventResponse struct {
	Event WaitingEvent `json:"event"`
}

type MatchCreateRequest struct {
	MemberIDs []string        `json:"memberIds"`
	Distance  RunningDistance `json:"distance"`
}

type MemberStatusRequest struct {
	Active bool `json:"active"`
}
