// Package clustertest provides scripted in-memory fakes for the cluster
// interfaces, in the spirit of client-go's fake clientset. Tests seed
// deployments, script failures per method and name, and assert on the
// recorded call sequence afterwards.
package clustertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cascade-sh/cascade/pkg/cluster"
	"github.com/cascade-sh/cascade/pkg/types"
)

// Call records one Backend method invocation
type Call struct {
	Method string
	Name   string
	Detail string
}

// FakeDeployment is the fake's view of one deployment
type FakeDeployment struct {
	Image    string
	Replicas int32
	Ready    int32
	Strategy types.UpdateStrategy
	ShadowOf string
}

// Fake implements cluster.Backend against an in-memory deployment table.
// Rollouts converge instantly unless scripted otherwise.
type Fake struct {
	mu          sync.Mutex
	Deployments map[string]*FakeDeployment
	Calls       []Call

	// Errors holds scripted failures keyed "Method/name". Each call pops
	// one error off the front; an empty queue means success.
	Errors map[string][]error

	// Unready marks services whose pods never report ready
	Unready map[string]bool

	// ProbeFn overrides ExecProbe responses; it sees the image currently
	// deployed so probes can be keyed off the running version. Defaults
	// to 200 "ok".
	ProbeFn func(service, image string) (status int, body string)

	// ExecFn overrides ExecInDeployment responses
	ExecFn func(deployment string, command []string) (stdout, stderr string, err error)
}

var _ cluster.Backend = (*Fake)(nil)

func NewFake() *Fake {
	return &Fake{
		Deployments: map[string]*FakeDeployment{},
		Errors:      map[string][]error{},
		Unready:     map[string]bool{},
	}
}

// Seed installs a converged deployment
func (f *Fake) Seed(name, image string, replicas int32) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deployments[name] = &FakeDeployment{Image: image, Replicas: replicas, Ready: replicas}
	return f
}

// Fail scripts errors for a method against a named deployment, consumed
// one per call
func (f *Fake) Fail(method, name string, errs ...error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := method + "/" + name
	f.Errors[key] = append(f.Errors[key], errs...)
	return f
}

func (f *Fake) record(method, name, detail string) {
	f.Calls = append(f.Calls, Call{Method: method, Name: name, Detail: detail})
}

func (f *Fake) popErr(method, name string) error {
	key := method + "/" + name
	queue := f.Errors[key]
	if len(queue) == 0 {
		return nil
	}
	f.Errors[key] = queue[1:]
	return queue[0]
}

func (f *Fake) get(name string) (*FakeDeployment, error) {
	dep, ok := f.Deployments[name]
	if !ok {
		return nil, fmt.Errorf("deployment %s not found", name)
	}
	return dep, nil
}

func (f *Fake) CurrentState(ctx context.Context, namespace, service string) (types.ServiceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CurrentState", service, "")
	if err := f.popErr("CurrentState", service); err != nil {
		return types.ServiceRecord{}, err
	}
	dep, err := f.get(service)
	if err != nil {
		return types.ServiceRecord{}, err
	}
	return types.ServiceRecord{
		Name:            service,
		Image:           dep.Image,
		DesiredReplicas: dep.Replicas,
		ReadyReplicas:   dep.Ready,
	}, nil
}

func (f *Fake) SetImage(ctx context.Context, namespace, service, image string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SetImage", service, image)
	if err := f.popErr("SetImage", service); err != nil {
		return err
	}
	dep, err := f.get(service)
	if err != nil {
		return err
	}
	dep.Image = image
	return nil
}

func (f *Fake) Scale(ctx context.Context, namespace, service string, replicas int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Scale", service, fmt.Sprintf("%d", replicas))
	if err := f.popErr("Scale", service); err != nil {
		return err
	}
	dep, err := f.get(service)
	if err != nil {
		return err
	}
	dep.Replicas = replicas
	if !f.Unready[service] {
		dep.Ready = replicas
	}
	return nil
}

func (f *Fake) SetUpdateStrategy(ctx context.Context, namespace, service string, strategy types.UpdateStrategy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SetUpdateStrategy", service, string(strategy.Type))
	if err := f.popErr("SetUpdateStrategy", service); err != nil {
		return err
	}
	dep, err := f.get(service)
	if err != nil {
		return err
	}
	dep.Strategy = strategy
	return nil
}

func (f *Fake) WaitForRollout(ctx context.Context, namespace, service string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("WaitForRollout", service, "")
	if err := f.popErr("WaitForRollout", service); err != nil {
		return err
	}
	dep, err := f.get(service)
	if err != nil {
		return err
	}
	if !f.Unready[service] {
		dep.Ready = dep.Replicas
	}
	return nil
}

func (f *Fake) PodReadiness(ctx context.Context, namespace, service string) (int32, int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("PodReadiness", service, "")
	if err := f.popErr("PodReadiness", service); err != nil {
		return 0, 0, err
	}
	dep, err := f.get(service)
	if err != nil {
		return 0, 0, err
	}
	if f.Unready[service] {
		return 0, dep.Replicas, nil
	}
	return dep.Ready, dep.Replicas, nil
}

func (f *Fake) ExecProbe(ctx context.Context, namespace, service, path string) (int, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ExecProbe", service, path)
	if err := f.popErr("ExecProbe", service); err != nil {
		return 0, "", err
	}
	dep, err := f.get(service)
	if err != nil {
		return 0, "", err
	}
	if f.ProbeFn != nil {
		status, body := f.ProbeFn(service, dep.Image)
		return status, body, nil
	}
	return 200, "ok", nil
}

func (f *Fake) CreateShadowDeployment(ctx context.Context, namespace, base, name, image string, replicas int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateShadowDeployment", name, image)
	if err := f.popErr("CreateShadowDeployment", name); err != nil {
		return err
	}
	if _, ok := f.Deployments[base]; !ok {
		return fmt.Errorf("deployment %s not found", base)
	}
	if _, ok := f.Deployments[name]; ok {
		return fmt.Errorf("deployment %s already exists", name)
	}
	f.Deployments[name] = &FakeDeployment{Image: image, Replicas: replicas, ShadowOf: base}
	return nil
}

func (f *Fake) DeleteDeployment(ctx context.Context, namespace, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteDeployment", name, "")
	if err := f.popErr("DeleteDeployment", name); err != nil {
		return err
	}
	delete(f.Deployments, name)
	return nil
}

func (f *Fake) ExecInDeployment(ctx context.Context, namespace, deployment, container string, command []string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ExecInDeployment", deployment, fmt.Sprintf("%v", command))
	if err := f.popErr("ExecInDeployment", deployment); err != nil {
		return "", "", err
	}
	if f.ExecFn != nil {
		return f.ExecFn(deployment, command)
	}
	return "", "", nil
}

// Image reports the deployed image, or "" for unknown deployments
func (f *Fake) Image(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if dep, ok := f.Deployments[name]; ok {
		return dep.Image
	}
	return ""
}

// Replicas reports the desired replica count, or -1 for unknown deployments
func (f *Fake) Replicas(name string) int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if dep, ok := f.Deployments[name]; ok {
		return dep.Replicas
	}
	return -1
}

// Exists reports whether the deployment is present
func (f *Fake) Exists(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.Deployments[name]
	return ok
}

// Sequence renders the call history as "Method(name)" strings for
// ordering assertions
func (f *Fake) Sequence() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.Calls))
	for _, c := range f.Calls {
		out = append(out, fmt.Sprintf("%s(%s)", c.Method, c.Name))
	}
	return out
}

// CallsTo filters the call history by method
func (f *Fake) CallsTo(method string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.Calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// MutationCount counts calls that change cluster state
func (f *Fake) MutationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		switch c.Method {
		case "SetImage", "Scale", "SetUpdateStrategy", "CreateShadowDeployment", "DeleteDeployment":
			n++
		}
	}
	return n
}

// FakeLocker implements cluster.Locker and records acquisitions. AcquireErr
// scripts a held lock; ForceAcquire succeeds regardless unless ForceErr is
// set, mirroring the takeover semantics of the real locker.
type FakeLocker struct {
	mu         sync.Mutex
	AcquireErr error
	ForceErr   error
	Acquired   []string
	ForceTaken []string
	Released   []string
}

var _ cluster.Locker = (*FakeLocker)(nil)

func (l *FakeLocker) Acquire(ctx context.Context, namespace, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.AcquireErr != nil {
		return l.AcquireErr
	}
	l.Acquired = append(l.Acquired, namespace+"/"+name)
	return nil
}

func (l *FakeLocker) ForceAcquire(ctx context.Context, namespace, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ForceErr != nil {
		return l.ForceErr
	}
	l.ForceTaken = append(l.ForceTaken, namespace+"/"+name)
	return nil
}

func (l *FakeLocker) Release(ctx context.Context, namespace, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Released = append(l.Released, namespace+"/"+name)
	return nil
}

// FakeSecrets implements cluster.SecretSource from a static map keyed
// "namespace/name"
type FakeSecrets map[string]map[string][]byte

var _ cluster.SecretSource = (FakeSecrets)(nil)

func (s FakeSecrets) Secret(ctx context.Context, namespace, name string) (map[string][]byte, error) {
	data, ok := s[namespace+"/"+name]
	if !ok {
		return nil, fmt.Errorf("secret %s/%s not found", namespace, name)
	}
	return data, nil
}
