package api

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Scan event types.
const (
	EventStarted   = "started"
	EventProgress  = "progress"
	EventResult    = "result"
	EventComplete  = "complete"
	EventCancelled = "cancelled"
	EventError     = "error"
)

// ScanEvent describes websocket payloads emitted during batch scans.
type ScanEvent struct {
	Type      string     `json:"type"`
	JobID     string     `json:"job_id"`
	BatchID   uint       `json:"batch_id"`
	Total     int64      `json:"total,omitempty"`
	Processed int        `json:"processed,omitempty"`
	Flagged   int        `json:"flagged,omitempty"`
	Result    *ResultDTO `json:"result,omitempty"`
	Message   string     `json:"message,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// wsClient wraps a websocket connection with write locking.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// ScanNotifier keeps track of websocket clients and fans scan events out to them.
type ScanNotifier struct {
	mu         sync.Mutex
	clients    map[*wsClient]struct{}
	lastStatus *ScanEvent
}

// NewScanNotifier constructs a notifier instance.
func NewScanNotifier() *ScanNotifier {
	return &ScanNotifier{clients: make(map[*wsClient]struct{})}
}

// Register attaches a websocket connection and replays the last status to it.
func (n *ScanNotifier) Register(conn *websocket.Conn) *wsClient {
	client := &wsClient{conn: conn}
	n.mu.Lock()
	n.clients[client] = struct{}{}
	status := n.lastStatus
	n.mu.Unlock()

	if status != nil {
		_ = client.writeJSON(*status)
	}
	return client
}

// Unregister removes the websocket client and closes the socket.
func (n *ScanNotifier) Unregister(client *wsClient) {
	if client == nil {
		return
	}
	n.mu.Lock()
	delete(n.clients, client)
	n.mu.Unlock()
	_ = client.conn.Close()
}

// Broadcast sends event to every registered client. Clients that fail a
// write are dropped.
func (n *ScanNotifier) Broadcast(event ScanEvent) {
	event.Timestamp = time.Now().UTC()

	n.mu.Lock()
	defer n.mu.Unlock()
	snapshot := event
	if event.Result != nil {
		last := *event.Result
		snapshot.Result = &last
	}
	n.lastStatus = &snapshot

	for client := range n.clients {
		if err := client.writeJSON(event); err != nil {
			delete(n.clients, client)
			_ = client.conn.Close()
		}
	}
}

// ClientCount reports how many sockets are attached.
func (n *ScanNotifier) ClientCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.clients)
}

// LastStatus returns a copy of the most recent status event, or nil.
func (n *ScanNotifier) LastStatus() *ScanEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.lastStatus == nil {
		return nil
	}
	status := *n.lastStatus
	return &status
}

func (c *wsClient) writeJSON(payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(payload)
}
