package relation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/karapace-operator/pkg/log"
	"github.com/cuemby/karapace-operator/pkg/types"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/selection"
	"k8s.io/client-go/informers"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/cache"
	"k8s.io/client-go/util/retry"
)

const (
	// LabelApp scopes relation secrets to an application
	LabelApp = "app.kubernetes.io/name"

	// LabelRelation is "kafka", "client" or "credentials"
	LabelRelation = "karapace.cuemby.io/relation"

	// LabelRelationID overrides the secret name as relation id
	LabelRelationID = "karapace.cuemby.io/relation-id"

	KindKafka       = "kafka"
	KindClient      = "client"
	KindCredentials = "credentials"

	resyncPeriod = 10 * time.Minute
)

// SecretSource reads relations from labeled Kubernetes Secrets. The Kafka
// operator (or an administrator) writes a "kafka" secret; each client
// application writes a "client" secret and receives a "<name>-credentials"
// secret in return.
type SecretSource struct {
	client    kubernetes.Interface
	namespace string
	app       string
}

// NewSecretSource creates a SecretSource for app in namespace
func NewSecretSource(client kubernetes.Interface, namespace, app string) *SecretSource {
	return &SecretSource{
		client:    client,
		namespace: namespace,
		app:       app,
	}
}

func (s *SecretSource) selector(kind string) string {
	return labels.SelectorFromSet(labels.Set{
		LabelApp:      s.app,
		LabelRelation: kind,
	}).String()
}

func (s *SecretSource) list(ctx context.Context, kind string) ([]corev1.Secret, error) {
	list, err := s.client.CoreV1().Secrets(s.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: s.selector(kind),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s relation secrets: %w", kind, err)
	}
	items := list.Items
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

// Kafka returns the payload of the first kafka relation secret
func (s *SecretSource) Kafka(ctx context.Context) (*types.KafkaDescriptor, error) {
	items, err := s.list(ctx, KindKafka)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	if len(items) > 1 {
		logger := log.WithRelation(KindKafka)
		logger.Warn().
			Int("count", len(items)).
			Str("using", items[0].Name).
			Msg("More than one Kafka relation secret")
	}
	k := ParseKafka(secretData(&items[0]))
	return &k, nil
}

// Clients returns every client relation secret
func (s *SecretSource) Clients(ctx context.Context) ([]types.ClientRelation, error) {
	items, err := s.list(ctx, KindClient)
	if err != nil {
		return nil, err
	}
	clients := make([]types.ClientRelation, 0, len(items))
	for i := range items {
		clients = append(clients, ParseClient(relationID(&items[i]), secretData(&items[i])))
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].ID < clients[j].ID })
	return clients, nil
}

// Publish writes data into the client's credentials secret, owned by the
// client request secret so it goes away with the relation
func (s *SecretSource) Publish(ctx context.Context, rel types.ClientRelation, data map[string]string) error {
	items, err := s.list(ctx, KindClient)
	if err != nil {
		return err
	}
	var owner *corev1.Secret
	for i := range items {
		if relationID(&items[i]) == rel.ID {
			owner = &items[i]
			break
		}
	}
	if owner == nil {
		return fmt.Errorf("client relation %s not found", rel.ID)
	}

	secrets := s.client.CoreV1().Secrets(s.namespace)
	name := owner.Name + "-" + KindCredentials

	return retry.RetryOnConflict(retry.DefaultRetry, func() error {
		existing, err := secrets.Get(ctx, name, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			secret := &corev1.Secret{
				ObjectMeta: metav1.ObjectMeta{
					Name:      name,
					Namespace: s.namespace,
					Labels: map[string]string{
						LabelApp:        s.app,
						LabelRelation:   KindCredentials,
						LabelRelationID: rel.ID,
					},
					OwnerReferences: []metav1.OwnerReference{{
						APIVersion: "v1",
						Kind:       "Secret",
						Name:       owner.Name,
						UID:        owner.UID,
					}},
				},
				Type: corev1.SecretTypeOpaque,
				Data: toBytes(data),
			}
			_, err = secrets.Create(ctx, secret, metav1.CreateOptions{})
			return err
		}
		if err != nil {
			return err
		}
		existing.Data = toBytes(data)
		_, err = secrets.Update(ctx, existing, metav1.UpdateOptions{})
		return err
	})
}

// Watch calls notify with the relation kind whenever a relation secret is
// added, changed or removed. It blocks until ctx is done.
func (s *SecretSource) Watch(ctx context.Context, notify func(kind string)) error {
	req, err := labels.NewRequirement(LabelRelation, selection.In, []string{KindKafka, KindClient})
	if err != nil {
		return fmt.Errorf("failed to build selector: %w", err)
	}
	app, err := labels.NewRequirement(LabelApp, selection.Equals, []string{s.app})
	if err != nil {
		return fmt.Errorf("failed to build selector: %w", err)
	}
	selector := labels.NewSelector().Add(*req, *app).String()

	factory := informers.NewSharedInformerFactoryWithOptions(s.client, resyncPeriod,
		informers.WithNamespace(s.namespace),
		informers.WithTweakListOptions(func(o *metav1.ListOptions) {
			o.LabelSelector = selector
		}),
	)
	inf := factory.Core().V1().Secrets().Informer()

	kindOf := func(obj interface{}) string {
		if tomb, ok := obj.(cache.DeletedFinalStateUnknown); ok {
			obj = tomb.Obj
		}
		if secret, ok := obj.(*corev1.Secret); ok {
			return secret.Labels[LabelRelation]
		}
		return ""
	}

	_, err = inf.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc: func(obj interface{}) {
			notify(kindOf(obj))
		},
		UpdateFunc: func(oldObj, newObj interface{}) {
			o, ok1 := oldObj.(*corev1.Secret)
			n, ok2 := newObj.(*corev1.Secret)
			if ok1 && ok2 && o.ResourceVersion == n.ResourceVersion {
				return
			}
			notify(kindOf(newObj))
		},
		DeleteFunc: func(obj interface{}) {
			notify(kindOf(obj))
		},
	})
	if err != nil {
		return fmt.Errorf("failed to register relation handler: %w", err)
	}

	factory.Start(ctx.Done())
	if !cache.WaitForCacheSync(ctx.Done(), inf.HasSynced) {
		return fmt.Errorf("relation informer failed to sync")
	}
	<-ctx.Done()
	factory.Shutdown()
	return nil
}

func relationID(secret *corev1.Secret) string {
	if id := secret.Labels[LabelRelationID]; id != "" {
		return id
	}
	return secret.Name
}

func secretData(secret *corev1.Secret) map[string]string {
	data := make(map[string]string, len(secret.Data)+len(secret.StringData))
	for k, v := range secret.Data {
		data[k] = string(v)
	}
	for k, v := range secret.StringData {
		data[k] = v
	}
	return data
}

func toBytes(data map[string]string) map[string][]byte {
	out := make(map[string][]byte, len(data))
	for k, v := range data {
		out[k] = []byte(v)
	}
	return out
}
