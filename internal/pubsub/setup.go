package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/iam"
	"cloud.google.com/go/pubsub"
)

// gmailPublisher is the Google-managed service account Gmail publishes
// watch events from; it needs publish rights on our topic.
const gmailPublisher = "serviceAccount:gmail-api-push@system.gserviceaccount.com"

// ackDeadline is the subscription's ack deadline, matched to the longest
// dispatch (agent run plus reply sends) so in-flight work is not
// redelivered mid-run.
const ackDeadline = 600 * time.Second

// EnsureResources idempotently creates the notification topic and
// subscription and grants Gmail publish rights on the topic.
func EnsureResources(ctx context.Context, client *pubsub.Client, topicID, subID string) error {
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return fmt.Errorf("check topic %s: %w", topicID, err)
	}
	if !exists {
		if topic, err = client.CreateTopic(ctx, topicID); err != nil {
			return fmt.Errorf("create topic %s: %w", topicID, err)
		}
		slog.Info("created pubsub topic", "topic", topicID)
	} else {
		slog.Info("pubsub topic exists", "topic", topicID)
	}

	if err := grantGmailPublish(ctx, topic); err != nil {
		// Not fatal: the operator may have granted it out of band or may
		// lack IAM admin rights here.
		slog.Warn("could not grant gmail publish rights on topic", "topic", topicID, "error", err)
	}

	sub := client.Subscription(subID)
	exists, err = sub.Exists(ctx)
	if err != nil {
		return fmt.Errorf("check subscription %s: %w", subID, err)
	}
	if !exists {
		_, err = client.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{
			Topic:       topic,
			AckDeadline: ackDeadline,
		})
		if err != nil {
			return fmt.Errorf("create subscription %s: %w", subID, err)
		}
		slog.Info("created pubsub subscription", "subscription", subID)
	} else {
		slog.Info("pubsub subscription exists", "subscription", subID)
	}
	return nil
}

func grantGmailPublish(ctx context.Context, topic *pubsub.Topic) error {
	handle := topic.IAM()
	policy, err := handle.Policy(ctx)
	if err != nil {
		return err
	}
	role := iam.RoleName("roles/pubsub.publisher")
	for _, member := range policy.Members(role) {
		if member == gmailPublisher {
			return nil
		}
	}
	policy.Add(gmailPublisher, role)
	return handle.SetPolicy(ctx, policy)
}
