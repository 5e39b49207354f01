package k8s

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cuemby/karapace-operator/pkg/log"
	"github.com/cuemby/karapace-operator/pkg/types"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	appsv1ac "k8s.io/client-go/applyconfigurations/apps/v1"
	corev1ac "k8s.io/client-go/applyconfigurations/core/v1"
	metav1ac "k8s.io/client-go/applyconfigurations/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// ErrInvalidStatefulSet is returned when the application StatefulSet lacks
// the selector or service name needed to build the patch
var ErrInvalidStatefulSet = errors.New("could not find StatefulSet spec parameters")

// ServiceLinks disables service link environment injection on the pods of
// the application StatefulSet. Karapace reads KARAPACE_* variables from its
// environment, and a Service named "karapace" would otherwise inject
// KARAPACE_PORT and friends into it.
type ServiceLinks struct {
	client    kubernetes.Interface
	namespace string
	podName   string
	container string
}

// NewServiceLinks creates a patcher for the StatefulSet owning podName
func NewServiceLinks(client kubernetes.Interface, namespace, podName string) *ServiceLinks {
	return &ServiceLinks{
		client:    client,
		namespace: namespace,
		podName:   podName,
		container: types.ServiceName,
	}
}

// AppName strips the ordinal suffix from a StatefulSet pod name
func AppName(podName string) string {
	i := strings.LastIndex(podName, "-")
	if i <= 0 {
		return podName
	}
	return podName[:i]
}

// Disable applies enableServiceLinks=false to the pod template. A
// forbidden response is logged and swallowed: the operator keeps working
// without the permission.
func (s *ServiceLinks) Disable(ctx context.Context) error {
	logger := log.WithComponent("k8s")
	name := AppName(s.podName)
	statefulsets := s.client.AppsV1().StatefulSets(s.namespace)

	sts, err := statefulsets.Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsForbidden(err) {
			logger.Warn().Str("statefulset", name).Msg("Could not read StatefulSet, operator lacks permissions")
			return nil
		}
		return fmt.Errorf("failed to get statefulset %s: %w", name, err)
	}
	if sts.Spec.Selector == nil || sts.Spec.ServiceName == "" {
		return fmt.Errorf("statefulset %s: %w", name, ErrInvalidStatefulSet)
	}

	selector := metav1ac.LabelSelector().WithMatchLabels(sts.Spec.Selector.MatchLabels)
	delta := appsv1ac.StatefulSet(name, s.namespace).
		WithSpec(appsv1ac.StatefulSetSpec().
			WithSelector(selector).
			WithServiceName(sts.Spec.ServiceName).
			WithTemplate(corev1ac.PodTemplateSpec().
				WithSpec(corev1ac.PodSpec().
					WithEnableServiceLinks(false).
					WithContainers(corev1ac.Container().WithName(s.container)))))

	_, err = statefulsets.Apply(ctx, delta, metav1.ApplyOptions{
		FieldManager: s.podName,
		Force:        true,
	})
	if err != nil {
		if apierrors.IsForbidden(err) {
			logger.Warn().Str("statefulset", name).Msg("Could not disable service links, operator lacks permissions")
			return nil
		}
		return fmt.Errorf("failed to patch statefulset %s: %w", name, err)
	}

	logger.Debug().Str("statefulset", name).Msg("Service links disabled")
	return nil
}
