// Package cluster talks to the Kubernetes cluster on behalf of the
// orchestration engine.
//
// The Backend interface is the full mutation and observation surface the
// deploy strategies need: reading a service's running image and replica
// counts, repointing images, scaling, switching update strategies, waiting
// for rollouts, probing health endpoints from inside pods, and managing the
// shadow deployments canary releases run on. KubeBackend implements it with
// the standard client set; tests use the scripted fake in clustertest.
//
// # Conventions
//
// A service maps 1:1 onto a Deployment of the same name in the environment's
// namespace. Image changes target the container named after the service,
// falling back to the first container for single-container pods that predate
// the naming convention.
//
// Health probes and database commands run inside the workload's own pods
// over the exec subresource, so they observe the process from the pod
// network with no dependency on ingress configuration.
//
// # Locking
//
// LeaseLocker serializes deploys per environment with a coordination.k8s.io
// Lease. The lease carries a holder identity and an expiry; a holder that
// crashes without releasing blocks the environment only until the lease
// expires, after which the next acquisition adopts it. ForceAcquire evicts
// even a live holder for emergency recovery, keeping exclusion intact while
// never waiting on the expiry.
package cluster
