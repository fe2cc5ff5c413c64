// Package metrics exposes the relay's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oncall_messages_recorded_total",
		Help: "Messages appended to the log, by kind.",
	}, []string{"kind"})

	PushSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oncall_push_sent_total",
		Help: "Push deliveries accepted by the push service.",
	})

	PushFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oncall_push_failed_total",
		Help: "Push deliveries rejected or errored.",
	})

	SubscriptionsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oncall_subscriptions_pruned_total",
		Help: "Subscriptions removed after the push service reported them gone.",
	})

	WebhooksDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oncall_webhook_deliveries_total",
		Help: "Webhook delivery attempts, by outcome.",
	}, []string{"outcome"})
)
