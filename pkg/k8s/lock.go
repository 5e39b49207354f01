package k8s

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/karapace-operator/pkg/log"
	coordinationv1 "k8s.io/api/coordination/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/ptr"
)

// DefaultLockDuration bounds how long a crashed holder blocks restarts
const DefaultLockDuration = 5 * time.Minute

// LeaseLock is the rolling restart lock. At most one identity holds it;
// a holder whose lease expired is replaced.
type LeaseLock struct {
	client    kubernetes.Interface
	namespace string
	name      string
	identity  string
	duration  time.Duration
	now       func() time.Time
}

// NewLeaseLock creates a lock stored in the Lease name/namespace
func NewLeaseLock(client kubernetes.Interface, namespace, name, identity string) *LeaseLock {
	return &LeaseLock{
		client:    client,
		namespace: namespace,
		name:      name,
		identity:  identity,
		duration:  DefaultLockDuration,
		now:       time.Now,
	}
}

// WithDuration overrides the lease duration
func (l *LeaseLock) WithDuration(d time.Duration) *LeaseLock {
	l.duration = d
	return l
}

// Acquire takes the lock. It returns false, without error, when another
// identity holds an unexpired lease.
func (l *LeaseLock) Acquire(ctx context.Context) (bool, error) {
	leases := l.client.CoordinationV1().Leases(l.namespace)
	now := metav1.NewMicroTime(l.now())

	lease, err := leases.Get(ctx, l.name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		lease = &coordinationv1.Lease{
			ObjectMeta: metav1.ObjectMeta{
				Name:      l.name,
				Namespace: l.namespace,
			},
			Spec: l.spec(now, 0),
		}
		if _, err := leases.Create(ctx, lease, metav1.CreateOptions{}); err != nil {
			if apierrors.IsAlreadyExists(err) {
				return false, nil
			}
			return false, fmt.Errorf("failed to create restart lock: %w", err)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get restart lock: %w", err)
	}

	holder := ptr.Deref(lease.Spec.HolderIdentity, "")
	if holder == l.identity {
		lease.Spec.RenewTime = &now
		return l.update(ctx, lease)
	}
	if holder != "" && !l.expired(lease) {
		logger := log.WithComponent("restart-lock")
		logger.Debug().Str("holder", holder).Msg("Restart lock held by another replica")
		return false, nil
	}

	lease.Spec = l.spec(now, ptr.Deref(lease.Spec.LeaseTransitions, 0)+1)
	return l.update(ctx, lease)
}

// Release gives the lock up if this identity holds it
func (l *LeaseLock) Release(ctx context.Context) error {
	leases := l.client.CoordinationV1().Leases(l.namespace)

	lease, err := leases.Get(ctx, l.name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get restart lock: %w", err)
	}
	if ptr.Deref(lease.Spec.HolderIdentity, "") != l.identity {
		return nil
	}

	lease.Spec.HolderIdentity = nil
	lease.Spec.RenewTime = nil
	if _, err := leases.Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("failed to release restart lock: %w", err)
	}
	return nil
}

// Holder returns the current holder identity, empty when free
func (l *LeaseLock) Holder(ctx context.Context) (string, error) {
	lease, err := l.client.CoordinationV1().Leases(l.namespace).Get(ctx, l.name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get restart lock: %w", err)
	}
	if l.expired(lease) {
		return "", nil
	}
	return ptr.Deref(lease.Spec.HolderIdentity, ""), nil
}

func (l *LeaseLock) spec(now metav1.MicroTime, transitions int32) coordinationv1.LeaseSpec {
	return coordinationv1.LeaseSpec{
		HolderIdentity:       ptr.To(l.identity),
		LeaseDurationSeconds: ptr.To(int32(l.duration.Seconds())),
		AcquireTime:          &now,
		RenewTime:            &now,
		LeaseTransitions:     ptr.To(transitions),
	}
}

func (l *LeaseLock) expired(lease *coordinationv1.Lease) bool {
	if lease.Spec.RenewTime == nil || lease.Spec.LeaseDurationSeconds == nil {
		return true
	}
	deadline := lease.Spec.RenewTime.Add(time.Duration(*lease.Spec.LeaseDurationSeconds) * time.Second)
	return l.now().After(deadline)
}

func (l *LeaseLock) update(ctx context.Context, lease *coordinationv1.Lease) (bool, error) {
	if _, err := l.client.CoordinationV1().Leases(l.namespace).Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
		if apierrors.IsConflict(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to update restart lock: %w", err)
	}
	return true, nil
}
