package cluster

import (
	"context"
	"errors"
	"time"

	"github.com/cascade-sh/cascade/pkg/types"
)

var (
	// ErrLockHeld is returned when another deploy or rollback holds the
	// environment's lease
	ErrLockHeld = errors.New("environment lock already held")
)

// Backend is the cluster surface the orchestration engine drives. All calls
// are synchronous and mutate or observe exactly one deployment object; there
// is no fire-and-forget operation. Service names map 1:1 onto deployment
// names in the environment's namespace, and the updated container is the one
// named after the service (falling back to the first container).
type Backend interface {
	// CurrentState reports the service's running image and replica counts
	CurrentState(ctx context.Context, namespace, service string) (types.ServiceRecord, error)

	// SetImage points the service's container at a new image
	SetImage(ctx context.Context, namespace, service, image string) error

	// Scale sets the desired replica count
	Scale(ctx context.Context, namespace, service string, replicas int32) error

	// SetUpdateStrategy changes how the cluster replaces pods on the next
	// image change (rolling-update with surge limits, or recreate)
	SetUpdateStrategy(ctx context.Context, namespace, service string, strategy types.UpdateStrategy) error

	// WaitForRollout blocks until the service's rollout converges or the
	// timeout elapses
	WaitForRollout(ctx context.Context, namespace, service string, timeout time.Duration) error

	// PodReadiness reports ready vs desired replica counts
	PodReadiness(ctx context.Context, namespace, service string) (ready, desired int32, err error)

	// ExecProbe performs an HTTP probe against the service's health endpoint
	// from inside one of its pods, returning the status code and body
	ExecProbe(ctx context.Context, namespace, service, path string) (status int, body string, err error)

	// CreateShadowDeployment clones the base service's pod template into a
	// parallel deployment (used for canaries) running the given image
	CreateShadowDeployment(ctx context.Context, namespace, base, name, image string, replicas int32) error

	// DeleteDeployment removes a deployment; deleting one that does not
	// exist is not an error
	DeleteDeployment(ctx context.Context, namespace, name string) error

	// ExecInDeployment runs a command inside a ready pod of the named
	// deployment and returns stdout and stderr
	ExecInDeployment(ctx context.Context, namespace, deployment, container string, command []string) (stdout, stderr string, err error)
}

// SecretSource yields named secrets, used for database credentials
type SecretSource interface {
	Secret(ctx context.Context, namespace, name string) (map[string][]byte, error)
}

// Locker provides per-environment mutual exclusion so at most one deploy or
// rollback mutates an environment at a time. Implementations must survive a
// crashed holder (lease expiry).
type Locker interface {
	Acquire(ctx context.Context, namespace, name string) error

	// ForceAcquire takes the lock regardless of who holds it. Emergency
	// recovery uses this; everything else waits its turn with Acquire.
	ForceAcquire(ctx context.Context, namespace, name string) error

	Release(ctx context.Context, namespace, name string) error
}
