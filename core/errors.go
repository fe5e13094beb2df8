package core

import "errors"

var (
	ErrChallengeExpired   = errors.New("challenge expired")
	ErrVerificationFailed = errors.New("verification failed")
	ErrChannelDelivery    = errors.New("channel delivery failed")
	ErrTokenExpired       = errors.New("token has expired")
	ErrTokenInvalidated   = errors.New("token has been invalidated")
	ErrInvalidToken       = errors.New("invalid token")
)
