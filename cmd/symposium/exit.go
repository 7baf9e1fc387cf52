package main

import (
	"errors"

	"github.com/socratic-shell/symposium-sub004/internal/symptom"
)

// Exit codes §6 requires to be distinguishable from each other and from
// ordinary failure (1), so a caller (a process supervisor, a shell script
// driving the bridge) can tell "another broker already won" apart from
// "the bind itself failed" apart from "the wire protocol was violated"
// without parsing stderr text.
const (
	exitOK                 = 0
	exitGeneric            = 1
	exitEndpointContention = 10
	exitBindFailure        = 11
	exitProtocolViolation  = 12
)

func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}
	var symErr *symptom.Error
	if errors.As(err, &symErr) {
		switch symErr.Kind {
		case symptom.EndpointContention:
			return exitEndpointContention
		case symptom.BindFailure:
			return exitBindFailure
		case symptom.ProtocolViolation:
			return exitProtocolViolation
		}
	}
	return exitGeneric
}
