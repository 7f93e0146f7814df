package cluster

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"
	"k8s.io/client-go/util/retry"

	"github.com/cascade-sh/cascade/pkg/health"
	"github.com/cascade-sh/cascade/pkg/log"
	"github.com/cascade-sh/cascade/pkg/types"
)

const (
	// shadowLabel marks canary deployments and names the base they mirror.
	// It is added to the pod selector so the shadow owns its own replica
	// set while the base service still routes traffic to both pod sets.
	shadowLabel = "cascade.sh/shadow-of"

	// probeTimeout bounds a single in-pod HTTP probe
	probeTimeout = 10 * time.Second
)

// KubeBackend implements Backend, SecretSource and exec plumbing against a
// Kubernetes cluster using the standard client set. Rollout waiting polls
// deployment status rather than watching, which keeps the failure modes
// simple under flaky API servers.
type KubeBackend struct {
	clients    kubernetes.Interface
	restConfig *rest.Config
	interval   time.Duration
	logger     zerolog.Logger
}

// NewKubeBackend builds a backend from a rest config. The poll interval
// controls how often rollout status is re-read while waiting.
func NewKubeBackend(restConfig *rest.Config, interval time.Duration) (*KubeBackend, error) {
	clients, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return &KubeBackend{
		clients:    clients,
		restConfig: restConfig,
		interval:   interval,
		logger:     log.WithComponent("cluster"),
	}, nil
}

// NewKubeBackendFromClient wires an existing client set, used by tests and
// by callers that already hold one
func NewKubeBackendFromClient(clients kubernetes.Interface, restConfig *rest.Config, interval time.Duration) *KubeBackend {
	return &KubeBackend{
		clients:    clients,
		restConfig: restConfig,
		interval:   interval,
		logger:     log.WithComponent("cluster"),
	}
}

func (b *KubeBackend) CurrentState(ctx context.Context, namespace, service string) (types.ServiceRecord, error) {
	dep, err := b.clients.AppsV1().Deployments(namespace).Get(ctx, service, metav1.GetOptions{})
	if err != nil {
		return types.ServiceRecord{}, fmt.Errorf("failed to get deployment %s/%s: %w", namespace, service, err)
	}
	idx, err := containerIndex(dep, service)
	if err != nil {
		return types.ServiceRecord{}, err
	}
	return types.ServiceRecord{
		Name:            service,
		Image:           dep.Spec.Template.Spec.Containers[idx].Image,
		DesiredReplicas: desiredReplicas(dep),
		ReadyReplicas:   dep.Status.ReadyReplicas,
	}, nil
}

func (b *KubeBackend) SetImage(ctx context.Context, namespace, service, image string) error {
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		dep, err := b.clients.AppsV1().Deployments(namespace).Get(ctx, service, metav1.GetOptions{})
		if err != nil {
			return err
		}
		idx, err := containerIndex(dep, service)
		if err != nil {
			return err
		}
		dep.Spec.Template.Spec.Containers[idx].Image = image
		_, err = b.clients.AppsV1().Deployments(namespace).Update(ctx, dep, metav1.UpdateOptions{})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to set image on %s/%s: %w", namespace, service, err)
	}
	b.logger.Debug().Str("service", service).Str("image", image).Msg("Image updated")
	return nil
}

func (b *KubeBackend) Scale(ctx context.Context, namespace, service string, replicas int32) error {
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		scale, err := b.clients.AppsV1().Deployments(namespace).GetScale(ctx, service, metav1.GetOptions{})
		if err != nil {
			return err
		}
		scale.Spec.Replicas = replicas
		_, err = b.clients.AppsV1().Deployments(namespace).UpdateScale(ctx, service, scale, metav1.UpdateOptions{})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to scale %s/%s to %d: %w", namespace, service, replicas, err)
	}
	b.logger.Debug().Str("service", service).Int32("replicas", replicas).Msg("Deployment scaled")
	return nil
}

func (b *KubeBackend) SetUpdateStrategy(ctx context.Context, namespace, service string, strategy types.UpdateStrategy) error {
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		dep, err := b.clients.AppsV1().Deployments(namespace).Get(ctx, service, metav1.GetOptions{})
		if err != nil {
			return err
		}
		switch strategy.Type {
		case types.UpdateRecreate:
			dep.Spec.Strategy = appsv1.DeploymentStrategy{Type: appsv1.RecreateDeploymentStrategyType}
		case types.UpdateRollingUpdate:
			maxUnavailable := intstr.FromString(strategy.MaxUnavailable)
			maxSurge := intstr.FromString(strategy.MaxSurge)
			dep.Spec.Strategy = appsv1.DeploymentStrategy{
				Type: appsv1.RollingUpdateDeploymentStrategyType,
				RollingUpdate: &appsv1.RollingUpdateDeployment{
					MaxUnavailable: &maxUnavailable,
					MaxSurge:       &maxSurge,
				},
			}
		default:
			return fmt.Errorf("unknown update strategy %q", strategy.Type)
		}
		_, err = b.clients.AppsV1().Deployments(namespace).Update(ctx, dep, metav1.UpdateOptions{})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to set update strategy on %s/%s: %w", namespace, service, err)
	}
	return nil
}

func (b *KubeBackend) WaitForRollout(ctx context.Context, namespace, service string, timeout time.Duration) error {
	err := health.PollUntil(ctx, b.interval, timeout, func(ctx context.Context) (bool, error) {
		dep, err := b.clients.AppsV1().Deployments(namespace).Get(ctx, service, metav1.GetOptions{})
		if err != nil {
			return false, err
		}
		return rolloutComplete(dep)
	})
	if err != nil {
		return fmt.Errorf("rollout of %s/%s: %w", namespace, service, err)
	}
	b.logger.Info().Str("service", service).Msg("Rollout complete")
	return nil
}

// rolloutComplete mirrors kubectl's rollout status arithmetic: the observed
// generation must catch up, then every replica must be updated, ready and
// available. A ProgressDeadlineExceeded condition fails the wait outright.
func rolloutComplete(dep *appsv1.Deployment) (bool, error) {
	for _, cond := range dep.Status.Conditions {
		if cond.Type == appsv1.DeploymentProgressing && cond.Reason == "ProgressDeadlineExceeded" {
			return false, fmt.Errorf("deployment %s exceeded its progress deadline", dep.Name)
		}
	}
	if dep.Generation > dep.Status.ObservedGeneration {
		return false, nil
	}
	desired := desiredReplicas(dep)
	if dep.Status.UpdatedReplicas < desired {
		return false, nil
	}
	if dep.Status.ReadyReplicas < desired {
		return false, nil
	}
	if dep.Status.AvailableReplicas < desired {
		return false, nil
	}
	return true, nil
}

func (b *KubeBackend) PodReadiness(ctx context.Context, namespace, service string) (int32, int32, error) {
	dep, err := b.clients.AppsV1().Deployments(namespace).Get(ctx, service, metav1.GetOptions{})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get deployment %s/%s: %w", namespace, service, err)
	}
	return dep.Status.ReadyReplicas, desiredReplicas(dep), nil
}

// ExecProbe curls the service's health endpoint from inside one of its own
// pods. Probing from the pod network sidesteps ingress and service mesh
// configuration, so a passing probe means the process itself answers.
func (b *KubeBackend) ExecProbe(ctx context.Context, namespace, service, path string) (int, string, error) {
	dep, err := b.clients.AppsV1().Deployments(namespace).Get(ctx, service, metav1.GetOptions{})
	if err != nil {
		return 0, "", fmt.Errorf("failed to get deployment %s/%s: %w", namespace, service, err)
	}
	idx, err := containerIndex(dep, service)
	if err != nil {
		return 0, "", err
	}
	container := dep.Spec.Template.Spec.Containers[idx]
	if len(container.Ports) == 0 {
		return 0, "", fmt.Errorf("container %s in %s/%s exposes no ports to probe", container.Name, namespace, service)
	}
	port := container.Ports[0].ContainerPort

	pod, err := b.readyPod(ctx, namespace, dep)
	if err != nil {
		return 0, "", err
	}

	probe := fmt.Sprintf("curl -s -w '\\n%%{http_code}' --max-time %d http://127.0.0.1:%d%s",
		int(probeTimeout.Seconds()), port, path)
	stdout, stderr, err := b.execInPod(ctx, namespace, pod, container.Name, []string{"sh", "-c", probe})
	if err != nil {
		return 0, "", fmt.Errorf("health probe in pod %s: %w (stderr: %s)", pod, err, strings.TrimSpace(stderr))
	}
	return parseProbeOutput(stdout)
}

// parseProbeOutput splits curl's "body\nstatus" write-out format
func parseProbeOutput(out string) (int, string, error) {
	out = strings.TrimRight(out, "\n")
	cut := strings.LastIndex(out, "\n")
	codeText := strings.TrimSpace(out[cut+1:])
	code, err := strconv.Atoi(codeText)
	if err != nil {
		return 0, "", fmt.Errorf("unexpected probe output %q", out)
	}
	body := ""
	if cut >= 0 {
		body = out[:cut]
	}
	return code, body, nil
}

func (b *KubeBackend) CreateShadowDeployment(ctx context.Context, namespace, base, name, image string, replicas int32) error {
	baseDep, err := b.clients.AppsV1().Deployments(namespace).Get(ctx, base, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("failed to get base deployment %s/%s: %w", namespace, base, err)
	}

	shadow := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    map[string]string{shadowLabel: base},
		},
		Spec: *baseDep.Spec.DeepCopy(),
	}
	shadow.Spec.Replicas = &replicas
	// The shadow keeps the base pod labels so the service selects its pods
	// too, and adds one label of its own so the replica sets stay distinct.
	if shadow.Spec.Selector == nil || shadow.Spec.Selector.MatchLabels == nil {
		return fmt.Errorf("base deployment %s/%s has no label selector", namespace, base)
	}
	shadow.Spec.Selector.MatchLabels[shadowLabel] = name
	if shadow.Spec.Template.Labels == nil {
		shadow.Spec.Template.Labels = map[string]string{}
	}
	shadow.Spec.Template.Labels[shadowLabel] = name

	idx, err := containerIndex(baseDep, base)
	if err != nil {
		return err
	}
	shadow.Spec.Template.Spec.Containers[idx].Image = image

	_, err = b.clients.AppsV1().Deployments(namespace).Create(ctx, shadow, metav1.CreateOptions{})
	if err != nil {
		if apierrors.IsAlreadyExists(err) {
			return fmt.Errorf("shadow deployment %s/%s already exists, delete the leftover before retrying: %w", namespace, name, err)
		}
		return fmt.Errorf("failed to create shadow deployment %s/%s: %w", namespace, name, err)
	}
	b.logger.Info().Str("base", base).Str("shadow", name).Str("image", image).Msg("Shadow deployment created")
	return nil
}

func (b *KubeBackend) DeleteDeployment(ctx context.Context, namespace, name string) error {
	err := b.clients.AppsV1().Deployments(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete deployment %s/%s: %w", namespace, name, err)
	}
	return nil
}

func (b *KubeBackend) ExecInDeployment(ctx context.Context, namespace, deployment, container string, command []string) (string, string, error) {
	dep, err := b.clients.AppsV1().Deployments(namespace).Get(ctx, deployment, metav1.GetOptions{})
	if err != nil {
		return "", "", fmt.Errorf("failed to get deployment %s/%s: %w", namespace, deployment, err)
	}
	pod, err := b.readyPod(ctx, namespace, dep)
	if err != nil {
		return "", "", err
	}
	if container == "" {
		idx, err := containerIndex(dep, deployment)
		if err != nil {
			return "", "", err
		}
		container = dep.Spec.Template.Spec.Containers[idx].Name
	}
	return b.execInPod(ctx, namespace, pod, container, command)
}

// Secret implements SecretSource
func (b *KubeBackend) Secret(ctx context.Context, namespace, name string) (map[string][]byte, error) {
	secret, err := b.clients.CoreV1().Secrets(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s/%s: %w", namespace, name, err)
	}
	return secret.Data, nil
}

// readyPod picks a pod to exec into, preferring ones that pass readiness
func (b *KubeBackend) readyPod(ctx context.Context, namespace string, dep *appsv1.Deployment) (string, error) {
	selector, err := metav1.LabelSelectorAsSelector(dep.Spec.Selector)
	if err != nil {
		return "", fmt.Errorf("bad selector on deployment %s: %w", dep.Name, err)
	}
	pods, err := b.clients.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: selector.String()})
	if err != nil {
		return "", fmt.Errorf("failed to list pods for %s/%s: %w", namespace, dep.Name, err)
	}
	var running string
	for i := range pods.Items {
		pod := &pods.Items[i]
		if pod.Status.Phase != corev1.PodRunning {
			continue
		}
		if running == "" {
			running = pod.Name
		}
		for _, cond := range pod.Status.Conditions {
			if cond.Type == corev1.PodReady && cond.Status == corev1.ConditionTrue {
				return pod.Name, nil
			}
		}
	}
	if running != "" {
		return running, nil
	}
	return "", fmt.Errorf("no running pods for deployment %s/%s", namespace, dep.Name)
}

// execInPod streams a command over SPDY and collects its output
func (b *KubeBackend) execInPod(ctx context.Context, namespace, pod, container string, command []string) (string, string, error) {
	req := b.clients.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(pod).
		Namespace(namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: container,
			Command:   command,
			Stdout:    true,
			Stderr:    true,
		}, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(b.restConfig, "POST", req.URL())
	if err != nil {
		return "", "", fmt.Errorf("failed to create executor: %w", err)
	}

	var stdout, stderr bytes.Buffer
	err = executor.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if err != nil {
		return stdout.String(), stderr.String(), fmt.Errorf("exec in pod %s/%s: %w", namespace, pod, err)
	}
	return stdout.String(), stderr.String(), nil
}

// containerIndex finds the container named after the deployment, falling
// back to the first container when names do not line up
func containerIndex(dep *appsv1.Deployment, name string) (int, error) {
	containers := dep.Spec.Template.Spec.Containers
	if len(containers) == 0 {
		return 0, fmt.Errorf("deployment %s has no containers", dep.Name)
	}
	for i := range containers {
		if containers[i].Name == name {
			return i, nil
		}
	}
	return 0, nil
}

func desiredReplicas(dep *appsv1.Deployment) int32 {
	if dep.Spec.Replicas != nil {
		return *dep.Spec.Replicas
	}
	return 1
}
