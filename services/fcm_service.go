package services

import (
	"context"
	"fmt"
	"log"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FCMService pushes incident notifications to mobile devices through
// Firebase Cloud Messaging. Initialization is best-effort: without
// credentials the service stays disabled and Send becomes a no-op, so email
// remains the only delivery channel.
type FCMService struct {
	client *messaging.Client
}

func NewFCMService(credentialsFile string) *FCMService {
	service := &FCMService{}
	if credentialsFile == "" {
		log.Println("FCM Service: no credentials configured, push notifications disabled")
		return service
	}

	opt := option.WithCredentialsFile(credentialsFile)
	app, err := firebase.NewApp(context.Background(), nil, opt)
	if err != nil {
		log.Printf("FCM Service: firebase app not initialized: %v", err)
		return service
	}

	client, err := app.Messaging(context.Background())
	if err != nil {
		log.Printf("FCM Service: messaging client not initialized: %v", err)
		return service
	}

	service.client = client
	log.Println("FCM Service: firebase messaging initialized")
	return service
}

// Enabled reports whether push delivery is available.
func (s *FCMService) Enabled() bool {
	return s.client != nil
}

// SendIncidentPush delivers one notification to the device token.
func (s *FCMService) SendIncidentPush(token string, n Notification) error {
	if s.client == nil || token == "" {
		return nil
	}

	title := fmt.Sprintf("[%s] Incident", n.Severity)
	if n.Kind == NotificationKindSLABreach {
		title = fmt.Sprintf("[%s] SLA breached", n.Severity)
	}

	message := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: title,
			Body:  n.IncidentTitle,
		},
		Data: map[string]string{
			"incident_id": n.IncidentID,
			"severity":    string(n.Severity),
			"kind":        n.Kind,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound:        "default",
				ChannelID:    "high_importance_channel",
				Priority:     messaging.PriorityHigh,
				DefaultSound: true,
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Badge: intPtr(1),
					Sound: "default",
				},
			},
		},
	}

	response, err := s.client.Send(context.Background(), message)
	if err != nil {
		return fmt.Errorf("failed to send push for incident %s: %w", n.IncidentID, err)
	}
	log.Printf("FCM Service: sent push for incident %s: %s", n.IncidentID, response)
	return nil
}

func intPtr(i int) *int {
	return &i
}
