package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/informers"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/cache"
	"k8s.io/client-go/util/retry"
)

const (
	// LabelApp marks every peer secret with the owning application
	LabelApp = "app.kubernetes.io/name"

	// LabelScope is "app" or "unit"
	LabelScope = "karapace.cuemby.io/peer-scope"

	// LabelUnit names the unit owning a unit-scoped secret
	LabelUnit = "karapace.cuemby.io/unit"

	watchResync = 10 * time.Minute
)

// SecretStore implements Store on Kubernetes Secrets, which makes the peer
// state visible to every replica through the API server. The app databag is
// the secret "<app>-peers", each unit databag is "<app>-peers-<unit>".
type SecretStore struct {
	client    kubernetes.Interface
	namespace string
	app       string
}

// NewSecretStore creates a secret-backed store for app in namespace
func NewSecretStore(client kubernetes.Interface, namespace, app string) *SecretStore {
	return &SecretStore{
		client:    client,
		namespace: namespace,
		app:       app,
	}
}

func (s *SecretStore) Close() error {
	return nil
}

func (s *SecretStore) appSecretName() string {
	return s.app + "-peers"
}

func (s *SecretStore) unitSecretName(unit string) string {
	return s.app + "-peers-" + strings.ReplaceAll(unit, "/", "-")
}

func (s *SecretStore) Formed(ctx context.Context) (bool, error) {
	_, err := s.client.CoreV1().Secrets(s.namespace).Get(ctx, s.appSecretName(), metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get peer secret: %w", err)
	}
	return true, nil
}

func (s *SecretStore) Form(ctx context.Context) error {
	secret := s.newSecret(s.appSecretName(), "app", "")
	_, err := s.client.CoreV1().Secrets(s.namespace).Create(ctx, secret, metav1.CreateOptions{})
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("failed to create peer secret: %w", err)
	}
	return nil
}

func (s *SecretStore) AppData(ctx context.Context) (map[string]string, error) {
	secret, err := s.client.CoreV1().Secrets(s.namespace).Get(ctx, s.appSecretName(), metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil, ErrNotFormed
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get peer secret: %w", err)
	}
	return decode(secret), nil
}

func (s *SecretStore) UpdateAppData(ctx context.Context, updates map[string]string) error {
	return retry.RetryOnConflict(retry.DefaultRetry, func() error {
		secret, err := s.client.CoreV1().Secrets(s.namespace).Get(ctx, s.appSecretName(), metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			return ErrNotFormed
		}
		if err != nil {
			return err
		}
		encode(secret, merge(decode(secret), updates))
		_, err = s.client.CoreV1().Secrets(s.namespace).Update(ctx, secret, metav1.UpdateOptions{})
		return err
	})
}

func (s *SecretStore) UnitData(ctx context.Context, unit string) (map[string]string, error) {
	formed, err := s.Formed(ctx)
	if err != nil {
		return nil, err
	}
	if !formed {
		return nil, ErrNotFormed
	}

	secret, err := s.client.CoreV1().Secrets(s.namespace).Get(ctx, s.unitSecretName(unit), metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get unit secret: %w", err)
	}
	return decode(secret), nil
}

func (s *SecretStore) UpdateUnitData(ctx context.Context, unit string, updates map[string]string) error {
	formed, err := s.Formed(ctx)
	if err != nil {
		return err
	}
	if !formed {
		return ErrNotFormed
	}

	secrets := s.client.CoreV1().Secrets(s.namespace)
	return retry.RetryOnConflict(retry.DefaultRetry, func() error {
		secret, err := secrets.Get(ctx, s.unitSecretName(unit), metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			secret = s.newSecret(s.unitSecretName(unit), "unit", unit)
			encode(secret, merge(nil, updates))
			_, err = secrets.Create(ctx, secret, metav1.CreateOptions{})
			if apierrors.IsAlreadyExists(err) {
				// Lost a race with ourselves on another goroutine; retry as update
				return apierrors.NewConflict(corev1.Resource("secrets"), secret.Name, err)
			}
			return err
		}
		if err != nil {
			return err
		}
		encode(secret, merge(decode(secret), updates))
		_, err = secrets.Update(ctx, secret, metav1.UpdateOptions{})
		return err
	})
}

func (s *SecretStore) Units(ctx context.Context) ([]string, error) {
	selector := labels.SelectorFromSet(labels.Set{LabelApp: s.app, LabelScope: "unit"})
	list, err := s.client.CoreV1().Secrets(s.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selector.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list unit secrets: %w", err)
	}

	units := make([]string, 0, len(list.Items))
	for _, item := range list.Items {
		if unit := item.Labels[LabelUnit]; unit != "" {
			units = append(units, unit)
		}
	}
	sort.Strings(units)
	return units, nil
}

// Watch calls notify whenever the app-scoped peer secret is created, changed
// or removed by any replica. It blocks until ctx is done.
func (s *SecretStore) Watch(ctx context.Context, notify func()) error {
	selector := labels.SelectorFromSet(labels.Set{LabelApp: s.app, LabelScope: "app"}).String()

	factory := informers.NewSharedInformerFactoryWithOptions(s.client, watchResync,
		informers.WithNamespace(s.namespace),
		informers.WithTweakListOptions(func(o *metav1.ListOptions) {
			o.LabelSelector = selector
		}),
	)
	inf := factory.Core().V1().Secrets().Informer()

	_, err := inf.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc: func(interface{}) {
			notify()
		},
		UpdateFunc: func(oldObj, newObj interface{}) {
			o, ok1 := oldObj.(*corev1.Secret)
			n, ok2 := newObj.(*corev1.Secret)
			if ok1 && ok2 && o.ResourceVersion == n.ResourceVersion {
				return
			}
			notify()
		},
		DeleteFunc: func(interface{}) {
			notify()
		},
	})
	if err != nil {
		return fmt.Errorf("failed to register peer handler: %w", err)
	}

	factory.Start(ctx.Done())
	if !cache.WaitForCacheSync(ctx.Done(), inf.HasSynced) {
		return fmt.Errorf("peer informer failed to sync")
	}
	<-ctx.Done()
	factory.Shutdown()
	return nil
}

func (s *SecretStore) newSecret(name, scope, unit string) *corev1.Secret {
	lbls := map[string]string{
		LabelApp:   s.app,
		LabelScope: scope,
	}
	if unit != "" {
		lbls[LabelUnit] = strings.ReplaceAll(unit, "/", "-")
	}
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: s.namespace,
			Labels:    lbls,
		},
		Type: corev1.SecretTypeOpaque,
	}
}

func decode(secret *corev1.Secret) map[string]string {
	data := make(map[string]string, len(secret.Data)+len(secret.StringData))
	for k, v := range secret.Data {
		data[k] = string(v)
	}
	for k, v := range secret.StringData {
		data[k] = v
	}
	return data
}

func encode(secret *corev1.Secret, data map[string]string) {
	secret.StringData = nil
	secret.Data = make(map[string][]byte, len(data))
	for k, v := range data {
		secret.Data[k] = []byte(v)
	}
}
