// Package push delivers notifications to users who have no live connection.
package push

import (
	"context"
	"errors"
	"fmt"

	"github.com/Tyrowin/duochat/internal/domain"
)

// Provider delivers an encrypted payload to one subscription endpoint.
// Failures are reported as *DeliveryError.
type Provider interface {
	Deliver(ctx context.Context, sub domain.PushSubscription, payload []byte) error
	// PublicKey is the application server key browsers subscribe with.
	PublicKey() string
}

// DeliveryError is a failed delivery. Permanent failures mean the endpoint is
// gone and should be pruned; everything else is transient.
type DeliveryError struct {
	Endpoint   string
	StatusCode int
	Permanent  bool
	Err        error
}

func (e *DeliveryError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("push: %s delivery failure to %s (status %d): %v", kind, e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("push: %s delivery failure to %s: %v", kind, e.Endpoint, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a permanent delivery failure.
func IsPermanent(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Permanent
}

// permanentStatus reports whether a push service status marks the
// subscription as expired or revoked.
func permanentStatus(code int) bool {
	return code == 404 || code == 410
}
