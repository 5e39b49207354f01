package reconciler

import (
	"context"
	"errors"

	"github.com/cuemby/karapace-operator/pkg/state"
	"github.com/cuemby/karapace-operator/pkg/types"
)

// ErrLeaderOnly is returned by actions only the leader may run
var ErrLeaderOnly = errors.New("action must be run on the leader unit")

// GetPassword returns the internal admin password
func (c *Controller) GetPassword(ctx context.Context) (string, error) {
	return c.do(ctx, func(ctx context.Context) (string, error) {
		return c.auth.AdminPassword(ctx)
	})
}

// SetPassword rotates the password of username (the admin user when
// empty) and requests a restart. A password is generated when none is
// given.
func (c *Controller) SetPassword(ctx context.Context, username, password string) (string, error) {
	return c.do(ctx, func(ctx context.Context) (string, error) {
		if !c.cluster.IsLeader() {
			return "", ErrLeaderOnly
		}
		if username == "" {
			username = types.AdminUser
		}
		pw, err := c.auth.RotatePassword(ctx, username, password)
		if errors.Is(err, state.ErrNotLeader) {
			return "", ErrLeaderOnly
		}
		if err != nil {
			return "", err
		}
		c.logger.Info().Str("user", username).Msg("Password updated")
		c.Emit(types.EventRestartRequested)
		return pw, nil
	})
}

// SetTLSPrivateKey replaces the unit's private key and requests a new
// certificate for it
func (c *Controller) SetTLSPrivateKey(ctx context.Context, key string) error {
	_, err := c.do(ctx, func(ctx context.Context) (string, error) {
		if err := c.tls.SetPrivateKey(ctx, key); err != nil {
			return "", err
		}
		c.Emit(types.EventCertificatesChanged)
		return "", nil
	})
	return err
}
