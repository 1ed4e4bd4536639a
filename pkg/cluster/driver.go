package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/sabiut/ephemera/internal/telemetry"
)

// ErrNotConfigured is returned by every write operation when the driver was
// constructed without a reachable cluster. Callers must treat this as fatal
// for the enclosing job.
var ErrNotConfigured = errors.New("cluster driver: not configured")

// Driver wraps a Kubernetes typed clientset.
type Driver struct {
	clientset kubernetes.Interface
	logger    *slog.Logger
}

// NewDriver builds a Driver from a kubeconfig path, or from in-cluster
// configuration when kubeconfigPath is empty. It returns a disabled Driver
// (every operation returns ErrNotConfigured) rather than an error when
// disabled is true or when neither configuration can be loaded, matching the
// "disabled mode" contract.
func NewDriver(kubeconfigPath string, disabled bool, logger *slog.Logger) (*Driver, error) {
	if disabled {
		return &Driver{logger: logger}, nil
	}

	cfg, err := loadRestConfig(kubeconfigPath)
	if err != nil {
		if logger != nil {
			logger.Warn("cluster config unavailable, cluster driver disabled", "error", err)
		}
		return &Driver{logger: logger}, nil
	}

	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating Kubernetes clientset: %w", err)
	}

	return &Driver{clientset: cs, logger: logger}, nil
}

func loadRestConfig(kubeconfigPath string) (*rest.Config, error) {
	if kubeconfigPath != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	}
	return rest.InClusterConfig()
}

func (d *Driver) configured() bool {
	return d.clientset != nil
}

func (d *Driver) observe(operation string, err error) {
	outcome := "ok"
	if err != nil && !errors.Is(err, ErrNotConfigured) {
		outcome = "error"
	} else if errors.Is(err, ErrNotConfigured) {
		outcome = "not_configured"
	}
	telemetry.ClusterOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// CreateNamespace creates a namespace with the given labels. "Already exists"
// is normalized to success.
func (d *Driver) CreateNamespace(ctx context.Context, name string, labels map[string]string) (err error) {
	defer func() { d.observe("create_namespace", err) }()
	if !d.configured() {
		return ErrNotConfigured
	}

	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: name, Labels: labels},
	}
	_, err = d.clientset.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("creating namespace %s: %w", name, err)
	}
	return nil
}

// DeleteNamespace deletes a namespace. "Not found" is normalized to success.
func (d *Driver) DeleteNamespace(ctx context.Context, name string) (err error) {
	defer func() { d.observe("delete_namespace", err) }()
	if !d.configured() {
		return ErrNotConfigured
	}

	err = d.clientset.CoreV1().Namespaces().Delete(ctx, name, metav1.DeleteOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting namespace %s: %w", name, err)
	}
	return nil
}

// NamespaceExists reports whether the namespace exists on the cluster.
func (d *Driver) NamespaceExists(ctx context.Context, name string) (exists bool, err error) {
	defer func() { d.observe("namespace_exists", err) }()
	if !d.configured() {
		return false, ErrNotConfigured
	}

	_, err = d.clientset.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking namespace %s: %w", name, err)
	}
	return true, nil
}

// NamespacePhase returns the namespace's phase, or "" with ok=false if it does not exist.
func (d *Driver) NamespacePhase(ctx context.Context, name string) (phase string, ok bool, err error) {
	defer func() { d.observe("get_namespace_status", err) }()
	if !d.configured() {
		return "", false, ErrNotConfigured
	}

	ns, err := d.clientset.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("getting namespace %s: %w", name, err)
	}
	return string(ns.Status.Phase), true, nil
}

// ResourceQuota is the idempotent-create request for CreateResourceQuota.
type ResourceQuota struct {
	CPU    string
	Memory string
	Pods   string
}

// CreateResourceQuota creates a ResourceQuota in the namespace. A 409
// conflict (quota already exists) is treated as success.
func (d *Driver) CreateResourceQuota(ctx context.Context, namespace string, q ResourceQuota) (err error) {
	defer func() { d.observe("create_resource_quota", err) }()
	if !d.configured() {
		return ErrNotConfigured
	}

	rq := &corev1.ResourceQuota{
		ObjectMeta: metav1.ObjectMeta{Name: "ephemera-quota", Namespace: namespace},
		Spec: corev1.ResourceQuotaSpec{
			Hard: corev1.ResourceList{
				corev1.ResourceLimitsCPU:    resource.MustParse(q.CPU),
				corev1.ResourceLimitsMemory: resource.MustParse(q.Memory),
				corev1.ResourcePods:         resource.MustParse(q.Pods),
			},
		},
	}

	_, err = d.clientset.CoreV1().ResourceQuotas(namespace).Create(ctx, rq, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("creating resource quota in %s: %w", namespace, err)
	}
	return nil
}

// ApplyManifest creates the manifest, or patches it via update on conflict.
// Unknown kinds are refused outright.
func (d *Driver) ApplyManifest(ctx context.Context, m Manifest) (err error) {
	defer func() { d.observe("apply_manifest:"+string(m.Kind()), err) }()
	if !d.configured() {
		return ErrNotConfigured
	}
	if !m.IsRecognized() {
		return fmt.Errorf("apply_manifest: unrecognized kind %q", m.Kind())
	}

	ns := m.Namespace()
	switch m.Kind() {
	case KindDeployment:
		return d.applyDeployment(ctx, ns, m)
	case KindService:
		return d.applyService(ctx, ns, m)
	case KindIngress:
		return d.applyIngress(ctx, ns, m)
	case KindPersistentVolumeClaim:
		return d.applyPVC(ctx, ns, m)
	case KindConfigMap:
		return d.applyConfigMap(ctx, ns, m)
	case KindSecret:
		return d.applySecret(ctx, ns, m)
	default:
		return fmt.Errorf("apply_manifest: unrecognized kind %q", m.Kind())
	}
}

func (d *Driver) applyDeployment(ctx context.Context, ns string, m Manifest) error {
	var obj appsv1.Deployment
	if err := m.decodeInto(&obj); err != nil {
		return err
	}
	client := d.clientset.AppsV1().Deployments(ns)
	if _, err := client.Create(ctx, &obj, metav1.CreateOptions{}); err != nil {
		if !apierrors.IsConflict(err) && !apierrors.IsAlreadyExists(err) {
			return fmt.Errorf("creating deployment %s/%s: %w", ns, obj.Name, err)
		}
		existing, getErr := client.Get(ctx, obj.Name, metav1.GetOptions{})
		if getErr != nil {
			return fmt.Errorf("fetching deployment %s/%s for update: %w", ns, obj.Name, getErr)
		}
		obj.ResourceVersion = existing.ResourceVersion
		if _, err := client.Update(ctx, &obj, metav1.UpdateOptions{}); err != nil {
			return fmt.Errorf("patching deployment %s/%s: %w", ns, obj.Name, err)
		}
	}
	return nil
}

func (d *Driver) applyService(ctx context.Context, ns string, m Manifest) error {
	var obj corev1.Service
	if err := m.decodeInto(&obj); err != nil {
		return err
	}
	client := d.clientset.CoreV1().Services(ns)
	if _, err := client.Create(ctx, &obj, metav1.CreateOptions{}); err != nil {
		if !apierrors.IsConflict(err) && !apierrors.IsAlreadyExists(err) {
			return fmt.Errorf("creating service %s/%s: %w", ns, obj.Name, err)
		}
		existing, getErr := client.Get(ctx, obj.Name, metav1.GetOptions{})
		if getErr != nil {
			return fmt.Errorf("fetching service %s/%s for update: %w", ns, obj.Name, getErr)
		}
		obj.ResourceVersion = existing.ResourceVersion
		obj.Spec.ClusterIP = existing.Spec.ClusterIP
		if _, err := client.Update(ctx, &obj, metav1.UpdateOptions{}); err != nil {
			return fmt.Errorf("patching service %s/%s: %w", ns, obj.Name, err)
		}
	}
	return nil
}

func (d *Driver) applyIngress(ctx context.Context, ns string, m Manifest) error {
	var obj networkingv1.Ingress
	if err := m.decodeInto(&obj); err != nil {
		return err
	}
	client := d.clientset.NetworkingV1().Ingresses(ns)
	if _, err := client.Create(ctx, &obj, metav1.CreateOptions{}); err != nil {
		if !apierrors.IsConflict(err) && !apierrors.IsAlreadyExists(err) {
			return fmt.Errorf("creating ingress %s/%s: %w", ns, obj.Name, err)
		}
		existing, getErr := client.Get(ctx, obj.Name, metav1.GetOptions{})
		if getErr != nil {
			return fmt.Errorf("fetching ingress %s/%s for update: %w", ns, obj.Name, getErr)
		}
		obj.ResourceVersion = existing.ResourceVersion
		if _, err := client.Update(ctx, &obj, metav1.UpdateOptions{}); err != nil {
			return fmt.Errorf("patching ingress %s/%s: %w", ns, obj.Name, err)
		}
	}
	return nil
}

func (d *Driver) applyPVC(ctx context.Context, ns string, m Manifest) error {
	var obj corev1.PersistentVolumeClaim
	if err := m.decodeInto(&obj); err != nil {
		return err
	}
	client := d.clientset.CoreV1().PersistentVolumeClaims(ns)
	if _, err := client.Create(ctx, &obj, metav1.CreateOptions{}); err != nil {
		if !apierrors.IsConflict(err) && !apierrors.IsAlreadyExists(err) {
			return fmt.Errorf("creating pvc %s/%s: %w", ns, obj.Name, err)
		}
		existing, getErr := client.Get(ctx, obj.Name, metav1.GetOptions{})
		if getErr != nil {
			return fmt.Errorf("fetching pvc %s/%s for update: %w", ns, obj.Name, getErr)
		}
		obj.ResourceVersion = existing.ResourceVersion
		if _, err := client.Update(ctx, &obj, metav1.UpdateOptions{}); err != nil {
			return fmt.Errorf("patching pvc %s/%s: %w", ns, obj.Name, err)
		}
	}
	return nil
}

func (d *Driver) applyConfigMap(ctx context.Context, ns string, m Manifest) error {
	var obj corev1.ConfigMap
	if err := m.decodeInto(&obj); err != nil {
		return err
	}
	client := d.clientset.CoreV1().ConfigMaps(ns)
	if _, err := client.Create(ctx, &obj, metav1.CreateOptions{}); err != nil {
		if !apierrors.IsConflict(err) && !apierrors.IsAlreadyExists(err) {
			return fmt.Errorf("creating configmap %s/%s: %w", ns, obj.Name, err)
		}
		existing, getErr := client.Get(ctx, obj.Name, metav1.GetOptions{})
		if getErr != nil {
			return fmt.Errorf("fetching configmap %s/%s for update: %w", ns, obj.Name, getErr)
		}
		obj.ResourceVersion = existing.ResourceVersion
		if _, err := client.Update(ctx, &obj, metav1.UpdateOptions{}); err != nil {
			return fmt.Errorf("patching configmap %s/%s: %w", ns, obj.Name, err)
		}
	}
	return nil
}

func (d *Driver) applySecret(ctx context.Context, ns string, m Manifest) error {
	var obj corev1.Secret
	if err := m.decodeInto(&obj); err != nil {
		return err
	}
	client := d.clientset.CoreV1().Secrets(ns)
	if _, err := client.Create(ctx, &obj, metav1.CreateOptions{}); err != nil {
		if !apierrors.IsConflict(err) && !apierrors.IsAlreadyExists(err) {
			return fmt.Errorf("creating secret %s/%s: %w", ns, obj.Name, err)
		}
		existing, getErr := client.Get(ctx, obj.Name, metav1.GetOptions{})
		if getErr != nil {
			return fmt.Errorf("fetching secret %s/%s for update: %w", ns, obj.Name, getErr)
		}
		obj.ResourceVersion = existing.ResourceVersion
		if _, err := client.Update(ctx, &obj, metav1.UpdateOptions{}); err != nil {
			return fmt.Errorf("patching secret %s/%s: %w", ns, obj.Name, err)
		}
	}
	return nil
}
