package domain

import "errors"

var (
	ErrRoomFull             = errors.New("consultation room is full")
	ErrNotJoined            = errors.New("connection has not joined a call")
	ErrInvalidRole          = errors.New("invalid participant role")
	ErrCallScopeMismatch    = errors.New("token is not valid for this call")
	ErrUnknownMessageType   = errors.New("unknown message type")
	ErrConnectionGone       = errors.New("connection is gone")
	ErrConsultationNotFound = errors.New("consultation not found")
)
