package models

import "errors"

var (
	ErrConnectionLimit  = errors.New("connection limit reached for user")
	ErrGatewayFull      = errors.New("gateway connection limit reached")
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendTimeout      = errors.New("send queue full")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionRevoked   = errors.New("session already revoked")
	ErrNotSessionOwner  = errors.New("session does not belong to requesting user")
	ErrInvalidToken     = errors.New("invalid authentication token")
)
