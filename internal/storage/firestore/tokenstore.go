// Package firestore persists device registrations and legacy channel
// declarations in Google Cloud Firestore.
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/tinywideclouds/go-notification-bridge/pkg/dispatch"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

const (
	platformMobile = "mobile"
	platformWeb    = "web"
)

// FirestoreStore implements dispatch.TokenStore using Google Cloud Firestore.
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

// deviceRecord holds either a mobile token or a web subscription.
type deviceRecord struct {
	Platform        string                            `firestore:"platform"`
	Token           string                            `firestore:"token,omitempty"`
	WebSubscription *notification.WebPushSubscription `firestore:"web_subscription,omitempty"`
	UpdatedAt       time.Time                         `firestore:"updated_at"`
}

// --- Mobile (FCM / APNs) ---

func (s *FirestoreStore) RegisterMobile(ctx context.Context, experienceID, token string) error {
	record := deviceRecord{
		Platform:  platformMobile,
		Token:     token,
		UpdatedAt: time.Now(),
	}
	_, err := s.deviceRef(experienceID, hashKey(token)).Set(ctx, record)
	return err
}

func (s *FirestoreStore) UnregisterMobile(ctx context.Context, experienceID, token string) error {
	_, err := s.deviceRef(experienceID, hashKey(token)).Delete(ctx)
	return err
}

// --- Web (VAPID) ---

func (s *FirestoreStore) RegisterWeb(ctx context.Context, experienceID string, sub notification.WebPushSubscription) error {
	// The endpoint URL identifies a subscription.
	record := deviceRecord{
		Platform:        platformWeb,
		WebSubscription: &sub,
		UpdatedAt:       time.Now(),
	}
	_, err := s.deviceRef(experienceID, hashKey(sub.Endpoint)).Set(ctx, record)
	return err
}

func (s *FirestoreStore) UnregisterWeb(ctx context.Context, experienceID, endpoint string) error {
	_, err := s.deviceRef(experienceID, hashKey(endpoint)).Delete(ctx)
	return err
}

// Fetch sorts the devices of an experience into mobile and web buckets.
func (s *FirestoreStore) Fetch(ctx context.Context, experienceID string) (*dispatch.DeviceTargets, error) {
	iter := s.devicesCollection(experienceID).Documents(ctx)
	defer iter.Stop()

	targets := &dispatch.DeviceTargets{
		ExperienceID:     experienceID,
		MobileTokens:     make([]string, 0),
		WebSubscriptions: make([]notification.WebPushSubscription, 0),
	}

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record deviceRecord
		if err := doc.DataTo(&record); err != nil {
			// Corrupt rows are skipped rather than failing the fan-out.
			continue
		}

		if record.Platform == platformWeb && record.WebSubscription != nil {
			targets.WebSubscriptions = append(targets.WebSubscriptions, *record.WebSubscription)
		} else if record.Token != "" {
			targets.MobileTokens = append(targets.MobileTokens, record.Token)
		}
	}

	return targets, nil
}

// --- Helpers ---

// deviceRef: experiences/{experienceID}/devices/{hash}
func (s *FirestoreStore) deviceRef(experienceID, docID string) *firestore.DocumentRef {
	return s.devicesCollection(experienceID).Doc(docID)
}

func (s *FirestoreStore) devicesCollection(experienceID string) *firestore.CollectionRef {
	return s.client.Collection("experiences").Doc(docKey(experienceID)).Collection("devices")
}

// docKey makes an experience id ("@owner/slug") usable as a document id.
func docKey(id string) string {
	return url.PathEscape(id)
}

func hashKey(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}
