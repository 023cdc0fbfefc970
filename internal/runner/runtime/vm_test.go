package runtime

import (
	"context"
	"io"
	"testing"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func TestVMRuntime_Start_CreatesJob(t *testing.T) {
	clientset := fake.NewClientset()

	rt := &VMRuntime{
		clientset: clientset,
		config: VMConfig{
			Namespace:    "test-ns",
			RuntimeClass: "kata",
			Image:        "alpine:3.20",
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handle, err := rt.Start(ctx, StartOptions{
		AttemptID:        "att_01TEST",
		Command:          "echo hello",
		WorkDir:          "/var/jobs/job_x/att_01TEST",
		CPULimitMillis:   500,
		RAMLimitMB:       256,
		TimeLimitSeconds: 30,
		Stdout:           io.Discard,
	})
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if handle == nil {
		t.Fatal("expected handle to be non-nil")
	}

	jobs, err := clientset.BatchV1().Jobs("test-ns").List(ctx, metav1.ListOptions{})
	if err != nil {
		t.Fatalf("failed to list jobs: %v", err)
	}
	if len(jobs.Items) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs.Items))
	}

	job := jobs.Items[0]
	if job.Name != "runbox-att-01test" {
		t.Errorf("expected job name runbox-att-01test, got %s", job.Name)
	}
	if job.Labels["app.kubernetes.io/managed-by"] != "runbox" {
		t.Error("expected managed-by label to be 'runbox'")
	}

	podSpec := job.Spec.Template.Spec
	container := podSpec.Containers[0]
	if container.Image != "alpine:3.20" {
		t.Errorf("expected image alpine:3.20, got %s", container.Image)
	}
	wantCmd := []string{"/bin/sh", "-c", "echo hello"}
	if len(container.Command) != 3 || container.Command[2] != wantCmd[2] {
		t.Errorf("expected command %v, got %v", wantCmd, container.Command)
	}
	if container.WorkingDir != "/work" {
		t.Errorf("expected working dir /work, got %s", container.WorkingDir)
	}

	if podSpec.RuntimeClassName == nil || *podSpec.RuntimeClassName != "kata" {
		t.Errorf("expected runtime class kata, got %v", podSpec.RuntimeClassName)
	}
	hostPath := podSpec.Volumes[0].HostPath
	if hostPath == nil || hostPath.Path != "/var/jobs/job_x/att_01TEST" {
		t.Errorf("expected hostPath to the work area, got %v", podSpec.Volumes[0].VolumeSource)
	}

	if *job.Spec.BackoffLimit != 0 {
		t.Errorf("expected backoff limit 0, got %d", *job.Spec.BackoffLimit)
	}
	if job.Spec.ActiveDeadlineSeconds == nil || *job.Spec.ActiveDeadlineSeconds != 90 {
		t.Errorf("expected backstop deadline 90s, got %v", job.Spec.ActiveDeadlineSeconds)
	}

	if container.Resources.Limits.Cpu().String() != "500m" {
		t.Errorf("expected CPU limit 500m, got %s", container.Resources.Limits.Cpu().String())
	}
	if container.Resources.Limits.Memory().String() != "256Mi" {
		t.Errorf("expected memory limit 256Mi, got %s", container.Resources.Limits.Memory().String())
	}

	sc := container.SecurityContext
	if sc == nil || sc.ReadOnlyRootFilesystem == nil || !*sc.ReadOnlyRootFilesystem {
		t.Error("expected read-only root filesystem")
	}
	if sc.Capabilities == nil || len(sc.Capabilities.Drop) != 1 || sc.Capabilities.Drop[0] != "ALL" {
		t.Error("expected all capabilities dropped")
	}
}

func TestVMHandle_Wait_Succeeded(t *testing.T) {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "test-pod",
			Namespace: "test-ns",
			Labels:    map[string]string{"job-name": "runbox-att-w1"},
		},
		Status: corev1.PodStatus{Phase: corev1.PodRunning},
	}
	clientset := fake.NewClientset(pod)

	handle := &vmHandle{
		clientset: clientset,
		namespace: "test-ns",
		jobName:   "runbox-att-w1",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	go func() {
		// Let Wait discover the pod and establish its watch first.
		time.Sleep(1500 * time.Millisecond)
		updated := pod.DeepCopy()
		updated.Status.Phase = corev1.PodSucceeded
		clientset.CoreV1().Pods("test-ns").UpdateStatus(ctx, updated, metav1.UpdateOptions{})
	}()

	result, err := handle.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() failed: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", result.ExitCode)
	}
}

func TestVMHandle_Wait_FailedExitCode(t *testing.T) {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "test-pod",
			Namespace: "test-ns",
			Labels:    map[string]string{"job-name": "runbox-att-w2"},
		},
		Status: corev1.PodStatus{Phase: corev1.PodRunning},
	}
	clientset := fake.NewClientset(pod)

	handle := &vmHandle{
		clientset: clientset,
		namespace: "test-ns",
		jobName:   "runbox-att-w2",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	go func() {
		time.Sleep(1500 * time.Millisecond)
		updated := pod.DeepCopy()
		updated.Status.Phase = corev1.PodFailed
		updated.Status.ContainerStatuses = []corev1.ContainerStatus{{
			State: corev1.ContainerState{
				Terminated: &corev1.ContainerStateTerminated{ExitCode: 7},
			},
		}}
		clientset.CoreV1().Pods("test-ns").UpdateStatus(ctx, updated, metav1.UpdateOptions{})
	}()

	result, err := handle.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() failed: %v", err)
	}
	if result.ExitCode != 7 {
		t.Errorf("expected exit code 7, got %d", result.ExitCode)
	}
}

func TestVMHandle_Stop_DeletesJob(t *testing.T) {
	existingJob := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "runbox-att-s1",
			Namespace: "test-ns",
		},
	}
	clientset := fake.NewClientset(existingJob)

	handle := &vmHandle{
		clientset: clientset,
		namespace: "test-ns",
		jobName:   "runbox-att-s1",
	}

	ctx := context.Background()
	if err := handle.Stop(ctx); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	jobs, _ := clientset.BatchV1().Jobs("test-ns").List(ctx, metav1.ListOptions{})
	if len(jobs.Items) != 0 {
		t.Errorf("expected 0 jobs after delete, got %d", len(jobs.Items))
	}
}

func TestVMHandle_Close_ToleratesMissingJob(t *testing.T) {
	clientset := fake.NewClientset()

	handle := &vmHandle{
		clientset: clientset,
		namespace: "test-ns",
		jobName:   "runbox-att-gone",
	}

	if err := handle.Close(context.Background()); err != nil {
		t.Errorf("Close() on a missing job should be nil, got %v", err)
	}
}

func TestVMHandle_WaitForPod_FindsPod(t *testing.T) {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "test-pod",
			Namespace: "test-ns",
			Labels:    map[string]string{"job-name": "runbox-att-p1"},
		},
		Status: corev1.PodStatus{Phase: corev1.PodRunning},
	}
	clientset := fake.NewClientset(pod)

	handle := &vmHandle{
		clientset: clientset,
		namespace: "test-ns",
		jobName:   "runbox-att-p1",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	podName, err := handle.waitForPod(ctx)
	if err != nil {
		t.Fatalf("waitForPod failed: %v", err)
	}
	if podName != "test-pod" {
		t.Errorf("expected pod name 'test-pod', got '%s'", podName)
	}
}

func TestVMHandle_WaitForPod_Timeout(t *testing.T) {
	// Empty clientset - no pods will be found
	clientset := fake.NewClientset()

	handle := &vmHandle{
		clientset: clientset,
		namespace: "test-ns",
		jobName:   "runbox-att-none",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if _, err := handle.waitForPod(ctx); err == nil {
		t.Error("expected timeout error, got nil")
	}
}
