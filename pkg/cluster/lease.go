package cluster

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	coordinationv1 "k8s.io/api/coordination/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/cascade-sh/cascade/pkg/log"
)

// LeaseLocker implements Locker on top of coordination.k8s.io Leases. Each
// environment gets one lease object; whoever holds it may mutate the
// environment. Expired leases are adopted so a crashed deploy does not wedge
// the environment until an operator cleans up by hand.
type LeaseLocker struct {
	clients  kubernetes.Interface
	holder   string
	duration time.Duration
	logger   zerolog.Logger
}

// NewLeaseLocker builds a locker whose holder identity combines the local
// hostname with a random suffix, so concurrent runs on one machine still
// exclude each other
func NewLeaseLocker(clients kubernetes.Interface, duration time.Duration) *LeaseLocker {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "cascade"
	}
	return &LeaseLocker{
		clients:  clients,
		holder:   fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8]),
		duration: duration,
		logger:   log.WithComponent("lease"),
	}
}

// Holder reports this locker's identity as written into acquired leases
func (l *LeaseLocker) Holder() string {
	return l.holder
}

func (l *LeaseLocker) Acquire(ctx context.Context, namespace, name string) error {
	now := metav1.NewMicroTime(time.Now())
	seconds := int32(l.duration.Seconds())

	lease, err := l.clients.CoordinationV1().Leases(namespace).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		lease = &coordinationv1.Lease{
			ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
			Spec: coordinationv1.LeaseSpec{
				HolderIdentity:       &l.holder,
				LeaseDurationSeconds: &seconds,
				AcquireTime:          &now,
				RenewTime:            &now,
			},
		}
		_, err = l.clients.CoordinationV1().Leases(namespace).Create(ctx, lease, metav1.CreateOptions{})
		if apierrors.IsAlreadyExists(err) {
			return fmt.Errorf("lease %s/%s: %w", namespace, name, ErrLockHeld)
		}
		if err != nil {
			return fmt.Errorf("failed to create lease %s/%s: %w", namespace, name, err)
		}
		l.logger.Debug().Str("lease", name).Str("holder", l.holder).Msg("Lease acquired")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get lease %s/%s: %w", namespace, name, err)
	}

	holder := ""
	if lease.Spec.HolderIdentity != nil {
		holder = *lease.Spec.HolderIdentity
	}
	if holder != "" && holder != l.holder && !leaseExpired(lease, time.Now()) {
		return fmt.Errorf("lease %s/%s held by %s: %w", namespace, name, holder, ErrLockHeld)
	}
	if holder != "" && holder != l.holder {
		l.logger.Warn().Str("lease", name).Str("stale_holder", holder).Msg("Adopting expired lease")
	}

	lease.Spec.HolderIdentity = &l.holder
	lease.Spec.LeaseDurationSeconds = &seconds
	lease.Spec.AcquireTime = &now
	lease.Spec.RenewTime = &now
	_, err = l.clients.CoordinationV1().Leases(namespace).Update(ctx, lease, metav1.UpdateOptions{})
	if apierrors.IsConflict(err) {
		return fmt.Errorf("lease %s/%s: lost acquisition race: %w", namespace, name, ErrLockHeld)
	}
	if err != nil {
		return fmt.Errorf("failed to update lease %s/%s: %w", namespace, name, err)
	}
	l.logger.Debug().Str("lease", name).Str("holder", l.holder).Msg("Lease acquired")
	return nil
}

// ForceAcquire takes the lease no matter who holds it, by deleting the
// object and recreating it under this locker's identity. A live holder is
// evicted and logged. Losing the recreate race means another force-taker got
// there first; that run owns the environment now, so the loser backs off
// with ErrLockHeld instead of interleaving with it.
func (l *LeaseLocker) ForceAcquire(ctx context.Context, namespace, name string) error {
	lease, err := l.clients.CoordinationV1().Leases(namespace).Get(ctx, name, metav1.GetOptions{})
	switch {
	case err == nil:
		holder := ""
		if lease.Spec.HolderIdentity != nil {
			holder = *lease.Spec.HolderIdentity
		}
		if holder != "" && holder != l.holder {
			l.logger.Warn().Str("lease", name).Str("evicted_holder", holder).Msg("Stealing lease")
		}
		err = l.clients.CoordinationV1().Leases(namespace).Delete(ctx, name, metav1.DeleteOptions{})
		if err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("failed to delete lease %s/%s: %w", namespace, name, err)
		}
	case !apierrors.IsNotFound(err):
		return fmt.Errorf("failed to get lease %s/%s: %w", namespace, name, err)
	}

	now := metav1.NewMicroTime(time.Now())
	seconds := int32(l.duration.Seconds())
	fresh := &coordinationv1.Lease{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Spec: coordinationv1.LeaseSpec{
			HolderIdentity:       &l.holder,
			LeaseDurationSeconds: &seconds,
			AcquireTime:          &now,
			RenewTime:            &now,
		},
	}
	_, err = l.clients.CoordinationV1().Leases(namespace).Create(ctx, fresh, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("lease %s/%s: lost takeover race: %w", namespace, name, ErrLockHeld)
	}
	if err != nil {
		return fmt.Errorf("failed to recreate lease %s/%s: %w", namespace, name, err)
	}
	l.logger.Info().Str("lease", name).Str("holder", l.holder).Msg("Lease force-acquired")
	return nil
}

func (l *LeaseLocker) Release(ctx context.Context, namespace, name string) error {
	lease, err := l.clients.CoordinationV1().Leases(namespace).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get lease %s/%s: %w", namespace, name, err)
	}
	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity != l.holder {
		// Not ours anymore; another run adopted it after our expiry
		return nil
	}
	err = l.clients.CoordinationV1().Leases(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete lease %s/%s: %w", namespace, name, err)
	}
	l.logger.Debug().Str("lease", name).Msg("Lease released")
	return nil
}

func leaseExpired(lease *coordinationv1.Lease, now time.Time) bool {
	if lease.Spec.RenewTime == nil || lease.Spec.LeaseDurationSeconds == nil {
		return true
	}
	expiry := lease.Spec.RenewTime.Add(time.Duration(*lease.Spec.LeaseDurationSeconds) * time.Second)
	return now.After(expiry)
}
