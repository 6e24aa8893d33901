package core

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrConfiguration            = errors.New("configuration error")
	ErrInvalidState             = errors.New("invalid state")
	ErrNoActiveProducer         = errors.New("no active producer")
	ErrIncompatibleCapabilities = errors.New("incompatible capabilities")
	ErrGatewayFailure           = errors.New("media gateway failure")
	ErrGatewayTimeout           = errors.New("media gateway timeout")
	ErrGatewayProcessLoss       = errors.New("media gateway process lost")
	ErrBadRequest               = errors.New("bad request")
	ErrUnknownMethod            = errors.New("unknown method")
	ErrRateLimited              = errors.New("rate limited")
)

// Wire codes reported to clients in error responses.
const (
	CodeConfiguration            = "ConfigurationError"
	CodeInvalidState             = "InvalidState"
	CodeNoActiveProducer         = "NoActiveProducer"
	CodeIncompatibleCapabilities = "IncompatibleCapabilities"
	CodeGatewayFailure           = "GatewayFailure"
	CodeGatewayTimeout           = "GatewayTimeout"
	CodeGatewayProcessLoss       = "GatewayProcessLoss"
	CodeBadRequest               = "BadRequest"
	CodeUnknownMethod            = "UnknownMethod"
	CodeRateLimited              = "RateLimited"
	CodeInternal                 = "InternalError"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidState, CodeInvalidState},
	{ErrNoActiveProducer, CodeNoActiveProducer},
	{ErrIncompatibleCapabilities, CodeIncompatibleCapabilities},
	{ErrGatewayTimeout, CodeGatewayTimeout},
	{ErrGatewayProcessLoss, CodeGatewayProcessLoss},
	{ErrGatewayFailure, CodeGatewayFailure},
	{ErrBadRequest, CodeBadRequest},
	{ErrUnknownMethod, CodeUnknownMethod},
	{ErrRateLimited, CodeRateLimited},
	{ErrConfiguration, CodeConfiguration},
}

// CodeOf classifies err into a wire code.
func CodeOf(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// GatewayError normalizes an error returned by a MediaGateway call so it
// always classifies as one of the gateway codes.
func GatewayError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: %v", ErrGatewayTimeout, op, err)
	case errors.Is(err, ErrGatewayTimeout),
		errors.Is(err, ErrGatewayProcessLoss),
		errors.Is(err, ErrGatewayFailure):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrGatewayFailure, op, err)
	}
}
