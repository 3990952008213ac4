package testsupport

import (
	"context"
	"sync"
	"time"
)

// Notification is one recorded notifier call.
type Notification struct {
	Kind      string
	SessionID string
	Reason    string
	Latitude  float64
	Longitude float64
	HasFix    bool
	Total     int
	Err       error
}

// RecordingNotifier captures notification calls for assertions.
type RecordingNotifier struct {
	mu    sync.Mutex
	calls []Notification
}

func (n *RecordingNotifier) record(call Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, call)
}

// Calls returns a copy of everything recorded so far.
func (n *RecordingNotifier) Calls() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.calls...)
}

// ByKind returns recorded calls of one kind.
func (n *RecordingNotifier) ByKind(kind string) []Notification {
	var out []Notification
	for _, call := range n.Calls() {
		if call.Kind == kind {
			out = append(out, call)
		}
	}
	return out
}

func (n *RecordingNotifier) NotifySessionActivated(_ context.Context, sessionID, trigger string) error {
	n.record(Notification{Kind: "activated", SessionID: sessionID, Reason: trigger})
	return nil
}

func (n *RecordingNotifier) NotifyLocationUpdate(_ context.Context, sessionID string, latitude, longitude float64) error {
	n.record(Notification{Kind: "location", SessionID: sessionID, Latitude: latitude, Longitude: longitude})
	return nil
}

func (n *RecordingNotifier) NotifyEmergency(_ context.Context, sessionID, reason string, latitude, longitude float64, hasFix bool) error {
	n.record(Notification{
		Kind:      "emergency",
		SessionID: sessionID,
		Reason:    reason,
		Latitude:  latitude,
		Longitude: longitude,
		HasFix:    hasFix,
	})
	return nil
}

func (n *RecordingNotifier) NotifySessionEnded(_ context.Context, sessionID string, evidenceTotal int, _ time.Duration) error {
	n.record(Notification{Kind: "ended", SessionID: sessionID, Total: evidenceTotal})
	return nil
}

func (n *RecordingNotifier) NotifyError(_ context.Context, err error, contextLabel string) error {
	n.record(Notification{Kind: "error", Reason: contextLabel, Err: err})
	return nil
}

func (n *RecordingNotifier) TestNotification(context.Context) error {
	n.record(Notification{Kind: "test"})
	return nil
}
