package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"

	"stories-go/internal/relay"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventInstall           EventType = "install"
	EventActivate          EventType = "activate"
	EventFetch             EventType = "fetch"
	EventPush              EventType = "push"
	EventNotificationClick EventType = "notificationclick"
	EventSync              EventType = "sync"
	EventMessage           EventType = "message"
)

// SyncTag is the background-sync registration the worker answers.
const SyncTag = "background-sync"

// Event is a platform signal delivered to the worker.
type Event struct {
	Type EventType

	Request *http.Request  // fetch
	Data    []byte         // push: raw JSON payload, may be empty
	Action  string         // notificationclick: "explore", "close" or ""
	Tag     string         // sync
	Message *relay.Message // message
}

// Notification is what a push event asks the client to display.
type Notification struct {
	Title              string         `json:"title"`
	Body               string         `json:"body"`
	Icon               string         `json:"icon"`
	Badge              string         `json:"badge"`
	Vibrate            []int          `json:"vibrate"`
	Data               map[string]any `json:"data"`
	Actions            []Action       `json:"actions"`
	RequireInteraction bool           `json:"requireInteraction"`
}

// Action is a button on a notification.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon"`
}

// ClickPayload tells the client where to go after a notification click.
type ClickPayload struct {
	Action string `json:"action"`
	URL    string `json:"url"`
}

const (
	defaultTitle = "Dicoding Stories"
	defaultBody  = "You have a new notification!"
	iconPath     = "./icons/icon-192x192.png"
	badgePath    = "./icons/badge-72x72.png"
)

// Dispatch handles one lifecycle event. Only fetch events produce a response.
func (w *Worker) Dispatch(ctx context.Context, ev Event) (*http.Response, error) {
	switch ev.Type {
	case EventInstall:
		return nil, w.Install(ctx)
	case EventActivate:
		return nil, w.Activate(ctx)
	case EventFetch:
		if ev.Request == nil {
			return nil, fmt.Errorf("fetch event without request")
		}
		return w.RoundTrip(ev.Request.WithContext(ctx))
	case EventPush:
		return nil, w.push(ev.Data)
	case EventNotificationClick:
		return nil, w.notificationClick(ev.Action)
	case EventSync:
		return nil, w.sync(ev.Tag)
	case EventMessage:
		if ev.Message != nil && ev.Message.Type == relay.TypeSkipWaiting {
			return nil, w.skipWaiting(ctx)
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown event type: %q", ev.Type)
	}
}

// ParsePush builds the notification for a push payload. Missing or malformed
// fields fall back to defaults; payload data is merged over the default data.
func (w *Worker) ParsePush(data []byte) Notification {
	n := Notification{
		Title:   defaultTitle,
		Body:    defaultBody,
		Icon:    iconPath,
		Badge:   badgePath,
		Vibrate: []int{100, 50, 100},
		Data: map[string]any{
			"dateOfArrival": w.clock.Now().UnixMilli(),
			"primaryKey":    1,
		},
		Actions: []Action{
			{Action: "explore", Title: "View Stories", Icon: iconPath},
			{Action: "close", Title: "Close", Icon: iconPath},
		},
		RequireInteraction: true,
	}
	if len(data) == 0 {
		return n
	}

	var payload struct {
		Title string         `json:"title"`
		Body  string         `json:"body"`
		Data  map[string]any `json:"data"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		w.logger.Warn("malformed push payload", "error", err)
		return n
	}
	if payload.Title != "" {
		n.Title = payload.Title
	}
	if payload.Body != "" {
		n.Body = payload.Body
	}
	maps.Copy(n.Data, payload.Data)
	return n
}

func (w *Worker) push(data []byte) error {
	return w.broadcast(relay.TypePush, w.ParsePush(data))
}

func (w *Worker) notificationClick(action string) error {
	switch action {
	case "close":
		return nil
	case "explore":
		return w.broadcast(relay.TypeNotificationClick, ClickPayload{Action: action, URL: "./#/home"})
	default:
		return w.broadcast(relay.TypeNotificationClick, ClickPayload{Action: action, URL: "./"})
	}
}

func (w *Worker) sync(tag string) error {
	if tag != SyncTag {
		w.logger.Debug("ignoring sync tag", "tag", tag)
		return nil
	}
	return w.broadcast(relay.TypeBackgroundSync, relay.SyncPayload{Action: relay.SyncAction})
}

func (w *Worker) broadcast(t relay.Type, payload any) error {
	m, err := relay.NewMessage(t, payload)
	if err != nil {
		return err
	}
	if w.relay == nil {
		return nil
	}
	n := w.relay.Broadcast(m)
	w.logger.Debug("relayed message", "type", string(t), "id", m.ID.String(), "clients", n)
	return nil
}
