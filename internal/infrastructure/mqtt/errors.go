package mqtt

import "errors"

// Sentinel errors. Failures from the broker are wrapped with %w so callers
// can match the operation with errors.Is and still see the paho cause.
var (
	// ErrNotConnected means the broker link is down. The audit recorder
	// treats it as a dropped fan-out, never as a failed request.
	ErrNotConnected = errors.New("mqtt: not connected")

	// ErrConnectionFailed wraps the reason Connect gave up.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS rejects levels above 2.
	ErrInvalidQoS = errors.New("mqtt: qos must be 0, 1 or 2")

	ErrInvalidTopic = errors.New("mqtt: empty topic")
)
