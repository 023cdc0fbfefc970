package runtime

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// VMConfig holds settings for the kernel-isolated runtime.
type VMConfig struct {
	// Namespace where attempt pods are created
	Namespace string
	// RuntimeClass providing kernel isolation (e.g. kata)
	RuntimeClass string
	// Image run inside the pod
	Image string
}

// VMRuntime runs attempts as Kubernetes Jobs under a kernel-isolating
// RuntimeClass. Provisioning is slower than containers, so the
// selector uses it as a last resort.
type VMRuntime struct {
	clientset kubernetes.Interface
	config    VMConfig
}

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	return os.Getenv("USERPROFILE")
}

// NewVMRuntime creates the Kubernetes-backed runtime. Tries in-cluster
// configuration first, then falls back to the local kubeconfig.
func NewVMRuntime(cfg VMConfig) (*VMRuntime, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := filepath.Join(homeDir(), ".kube", "config")
		restCfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}

	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}

	return &VMRuntime{clientset: clientset, config: cfg}, nil
}

// Ping probes API server reachability for capability detection.
func (v *VMRuntime) Ping(ctx context.Context) error {
	_, err := v.clientset.Discovery().ServerVersion()
	return err
}

// Start implements Runtime.Start by creating a Kubernetes Job whose pod
// runs under the configured RuntimeClass.
func (v *VMRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	jobName := "runbox-" + sanitizeName(opts.AttemptID)

	securityContext := &corev1.SecurityContext{
		AllowPrivilegeEscalation: boolPtr(false),
		ReadOnlyRootFilesystem:   boolPtr(true),
		Capabilities:             &corev1.Capabilities{Drop: []corev1.Capability{"ALL"}},
	}

	limits := corev1.ResourceList{}
	if opts.CPULimitMillis > 0 {
		limits[corev1.ResourceCPU] = *resource.NewMilliQuantity(int64(opts.CPULimitMillis), resource.DecimalSI)
	}
	if opts.RAMLimitMB > 0 {
		limits[corev1.ResourceMemory] = *resource.NewQuantity(int64(opts.RAMLimitMB)<<20, resource.BinarySI)
	}

	hostPathType := corev1.HostPathDirectory
	podSpec := corev1.PodSpec{
		RestartPolicy: corev1.RestartPolicyNever,
		Volumes: []corev1.Volume{{
			Name: "work",
			VolumeSource: corev1.VolumeSource{
				HostPath: &corev1.HostPathVolumeSource{Path: opts.WorkDir, Type: &hostPathType},
			},
		}},
		Containers: []corev1.Container{{
			Name:            "job",
			Image:           v.config.Image,
			Command:         []string{"/bin/sh", "-c", opts.Command},
			WorkingDir:      "/work",
			VolumeMounts:    []corev1.VolumeMount{{Name: "work", MountPath: "/work"}},
			Resources:       corev1.ResourceRequirements{Limits: limits},
			SecurityContext: securityContext,
		}},
	}
	if v.config.RuntimeClass != "" {
		podSpec.RuntimeClassName = &v.config.RuntimeClass
	}

	backoffLimit := int32(0) // retries belong to the scheduler, not kubernetes
	spec := batchv1.JobSpec{
		BackoffLimit: &backoffLimit,
		Template: corev1.PodTemplateSpec{
			ObjectMeta: metav1.ObjectMeta{
				Labels: map[string]string{
					"job-name":                     jobName,
					"app.kubernetes.io/managed-by": "runbox",
				},
			},
			Spec: podSpec,
		},
	}
	if opts.TimeLimitSeconds > 0 {
		// Backstop deadline; the supervisor enforces the real one.
		deadline := int64(opts.TimeLimitSeconds) + 60
		spec.ActiveDeadlineSeconds = &deadline
	}

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName,
			Namespace: v.config.Namespace,
			Labels:    map[string]string{"app.kubernetes.io/managed-by": "runbox"},
		},
		Spec: spec,
	}

	created, err := v.clientset.BatchV1().Jobs(v.config.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes job: %w", err)
	}

	h := &vmHandle{
		clientset: v.clientset,
		namespace: v.config.Namespace,
		jobName:   created.Name,
	}
	// Pod logs arrive as a single merged stream; stderr separation is
	// lost on this backend and every line lands on stdout.
	go h.copyLogs(ctx, opts.Stdout)
	return h, nil
}

func boolPtr(b bool) *bool { return &b }

type vmHandle struct {
	clientset kubernetes.Interface
	namespace string
	jobName   string
	podName   string
}

func (h *vmHandle) Wait(ctx context.Context) (ExitResult, error) {
	podName, err := h.waitForPod(ctx)
	if err != nil {
		return ExitResult{ExitCode: -1}, err
	}
	h.podName = podName

	watcher, err := h.clientset.CoreV1().Pods(h.namespace).Watch(ctx, metav1.ListOptions{
		FieldSelector: fmt.Sprintf("metadata.name=%s", podName),
	})
	if err != nil {
		return ExitResult{ExitCode: -1}, err
	}
	defer watcher.Stop()

	for event := range watcher.ResultChan() {
		if event.Type == watch.Error {
			return ExitResult{ExitCode: -1}, fmt.Errorf("pod watch error")
		}
		pod, ok := event.Object.(*corev1.Pod)
		if !ok {
			continue
		}
		switch pod.Status.Phase {
		case corev1.PodSucceeded:
			return ExitResult{ExitCode: 0}, nil
		case corev1.PodFailed:
			exitCode := -1
			if len(pod.Status.ContainerStatuses) > 0 {
				if term := pod.Status.ContainerStatuses[0].State.Terminated; term != nil {
					exitCode = int(term.ExitCode)
				}
			}
			return ExitResult{ExitCode: exitCode}, nil
		}
	}

	return ExitResult{ExitCode: -1}, ctx.Err()
}

func (h *vmHandle) waitForPod(ctx context.Context) (string, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			pods, err := h.clientset.CoreV1().Pods(h.namespace).List(ctx, metav1.ListOptions{
				LabelSelector: fmt.Sprintf("job-name=%s", h.jobName),
			})
			if err != nil {
				return "", err
			}
			if len(pods.Items) > 0 {
				return pods.Items[0].Name, nil
			}
		}
	}
}

func (h *vmHandle) copyLogs(ctx context.Context, stdout io.Writer) {
	podName, err := h.waitForPod(ctx)
	if err != nil {
		return
	}
	if err := h.waitForContainerReady(ctx, podName); err != nil {
		return
	}

	req := h.clientset.CoreV1().Pods(h.namespace).GetLogs(podName, &corev1.PodLogOptions{
		Container: "job",
		Follow:    true,
	})
	stream, err := req.Stream(ctx)
	if err != nil {
		return
	}
	defer stream.Close()
	io.Copy(stdout, stream)
}

func (h *vmHandle) waitForContainerReady(ctx context.Context, podName string) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pod, err := h.clientset.CoreV1().Pods(h.namespace).Get(ctx, podName, metav1.GetOptions{})
			if err != nil {
				return err
			}
			switch pod.Status.Phase {
			case corev1.PodRunning, corev1.PodSucceeded, corev1.PodFailed:
				return nil
			}
		}
	}
}

// Stop deletes the Job; pods have no lighter graceful path here.
func (h *vmHandle) Stop(ctx context.Context) error {
	return h.delete(ctx)
}

func (h *vmHandle) Kill(ctx context.Context) error {
	return h.delete(ctx)
}

// Close removes the Job and its pods if anything is still around.
func (h *vmHandle) Close(ctx context.Context) error {
	err := h.delete(ctx)
	if err != nil && !apierrors.IsNotFound(err) {
		return err
	}
	return nil
}

func (h *vmHandle) delete(ctx context.Context) error {
	propagation := metav1.DeletePropagationForeground
	return h.clientset.BatchV1().Jobs(h.namespace).Delete(ctx, h.jobName, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
}
