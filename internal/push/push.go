package push

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// Notifier sends Web Push notifications to subscribed users.
type Notifier struct {
	db              *sql.DB
	vapidPublicKey  string
	vapidPrivateKey string
}

// Subscription represents a stored Web Push subscription.
type Subscription struct {
	Endpoint  string `json:"endpoint"`
	KeyP256dh string `json:"p256dh"`
	KeyAuth   string `json:"auth"`
}

// NewNotifier creates a push Notifier. Returns nil if VAPID keys are empty.
func NewNotifier(db *sql.DB, vapidPublicKey, vapidPrivateKey string) *Notifier {
	if vapidPublicKey == "" || vapidPrivateKey == "" {
		return nil
	}
	return &Notifier{
		db:              db,
		vapidPublicKey:  vapidPublicKey,
		vapidPrivateKey: vapidPrivateKey,
	}
}

// VAPIDPublicKey returns the public VAPID key for the frontend.
func (n *Notifier) VAPIDPublicKey() string {
	if n == nil {
		return ""
	}
	return n.vapidPublicKey
}

// Subscribe stores a Web Push subscription for the user. Resubscribing the
// same endpoint reactivates it.
func (n *Notifier) Subscribe(userID int, sub Subscription) error {
	if n == nil {
		return nil
	}

	_, err := n.db.Exec(`
		INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, endpoint) DO UPDATE SET p256dh = excluded.p256dh, auth = excluded.auth, revoked_at = NULL
	`, userID, sub.Endpoint, sub.KeyP256dh, sub.KeyAuth)
	if err != nil {
		return fmt.Errorf("failed to store subscription: %w", err)
	}
	return nil
}

// payload is the JSON structure sent inside the push notification.
type payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// SendNewMessageNotification notifies the listed members that a message was
// published in the group.
func (n *Notifier) SendNewMessageNotification(memberIDs []int, groupID int, groupName, senderUsername string) {
	if n == nil {
		return
	}

	n.sendToUsers(memberIDs, payload{
		Title: groupName,
		Body:  "New message from " + senderUsername,
		URL:   fmt.Sprintf("/groups/%d", groupID),
	})
}

// SendPendingApprovalNotification tells the group's admins a message is
// waiting in the moderation queue.
func (n *Notifier) SendPendingApprovalNotification(adminIDs []int, groupID int, groupName, senderUsername string) {
	if n == nil {
		return
	}

	n.sendToUsers(adminIDs, payload{
		Title: groupName,
		Body:  senderUsername + " posted a message waiting for approval",
		URL:   fmt.Sprintf("/groups/%d/pending", groupID),
	})
}

func (n *Notifier) sendToUsers(userIDs []int, p payload) {
	data, _ := json.Marshal(p)

	for _, userID := range userIDs {
		rows, err := n.db.Query(
			"SELECT endpoint, p256dh, auth FROM push_subscriptions WHERE user_id = ? AND revoked_at IS NULL",
			userID,
		)
		if err != nil {
			log.Printf("push: failed to query subscriptions for user %d: %v", userID, err)
			continue
		}

		var subs []Subscription
		for rows.Next() {
			var sub Subscription
			if err := rows.Scan(&sub.Endpoint, &sub.KeyP256dh, &sub.KeyAuth); err != nil {
				continue
			}
			subs = append(subs, sub)
		}
		rows.Close()

		for _, sub := range subs {
			go n.sendToSubscription(sub, data)
		}
	}
}

func (n *Notifier) sendToSubscription(sub Subscription, data []byte) {
	s := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.KeyP256dh,
			Auth:   sub.KeyAuth,
		},
	}

	resp, err := webpush.SendNotification(data, s, &webpush.Options{
		VAPIDPublicKey:  n.vapidPublicKey,
		VAPIDPrivateKey: n.vapidPrivateKey,
		Subscriber:      "mailto:push@groupdrop.local",
		TTL:             86400,
	})
	if err != nil {
		log.Printf("push: failed to send to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// 410 Gone or 404 means the subscription is expired, clean it up
	if resp.StatusCode == 410 || resp.StatusCode == 404 {
		n.db.Exec("DELETE FROM push_subscriptions WHERE endpoint = ?", sub.Endpoint)
		log.Printf("push: removed expired subscription %s (status %d)", sub.Endpoint, resp.StatusCode)
	}
}
