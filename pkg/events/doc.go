/*
Package events provides an in-memory broker for operator notifications.

The reconciler publishes status transitions, handled and deferred
events, restarts and leadership changes. The admin API streams them to
clients and tests subscribe to observe the loop without polling.

Delivery is best effort: each subscriber has a buffer of 50 events and a
slow subscriber misses events rather than blocking the reconciler. Missed
deliveries are counted by Dropped. Subscribe takes an optional list of
types to filter on.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe(events.EventStatusChanged)
	defer broker.Unsubscribe(sub)

	broker.Notify(events.EventStatusChanged, "blocked: missing required kafka relation",
		"status", "KAFKA_NOT_RELATED")

	for event := range sub {
		fmt.Println(event.Type, event.Message)
	}
*/
package events
