package contract

import "errors"

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotIdentified     = errors.New("caller not identified")
	ErrConflict          = errors.New("slot conflict")
	ErrNotFound          = errors.New("appointment not found")
	ErrUnknownTool       = errors.New("unknown tool")
	ErrIllegalTransition = errors.New("illegal call state transition")
	ErrSessionNotFound   = errors.New("call session not found")
	ErrUpstreamTimeout   = errors.New("upstream dependency timed out")
	ErrUpstreamFailure   = errors.New("upstream dependency failed")
	ErrTransportLost     = errors.New("call transport lost")
)
