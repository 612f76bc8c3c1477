/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package games

import "errors"

var (
	ErrNotHost         = errors.New("only the host may do that")
	ErrWrongPhase      = errors.New("not allowed in the current phase")
	ErrUnknownPlayer   = errors.New("player is not in the room")
	ErrNoPendingResult = errors.New("no pending round result")
	ErrUnknownCategory = errors.New("unknown category")
	ErrRoundSealed     = errors.New("round breakdown is sealed")
)
