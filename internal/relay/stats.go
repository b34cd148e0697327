package relay

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats aggregates relay counters across connections. The zero value is ready
// to use and safe for concurrent use.
type Stats struct {
	dials        atomic.Int64
	dialFailures atomic.Int64
	active       atomic.Int64
	requests     atomic.Int64
	responses    atomic.Int64
	dropped      atomic.Int64
	closes       atomic.Int64
	reconnects   atomic.Int64
	rebalances   atomic.Int64
	bytesIn      atomic.Int64
	bytesOut     atomic.Int64

	mu           sync.Mutex
	endpoint     string
	connectionID string
	lastError    string
	lastChange   time.Time
}

// Snapshot is the /status view of Stats.
type Snapshot struct {
	Endpoint     string    `json:"endpoint"`
	ConnectionID string    `json:"connection_id,omitempty"`
	Active       int64     `json:"active_connections"`
	Dials        int64     `json:"dials"`
	DialFailures int64     `json:"dial_failures"`
	Requests     int64     `json:"requests"`
	Responses    int64     `json:"responses"`
	Dropped      int64     `json:"dropped_responses"`
	Closes       int64     `json:"service_closes"`
	Reconnects   int64     `json:"reconnects"`
	Rebalances   int64     `json:"rebalances"`
	BytesIn      int64     `json:"bytes_in"`
	BytesOut     int64     `json:"bytes_out"`
	LastError    string    `json:"last_error,omitempty"`
	LastChange   time.Time `json:"last_change"`
}

func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	endpoint, id, lastErr, changed := s.endpoint, s.connectionID, s.lastError, s.lastChange
	s.mu.Unlock()
	return Snapshot{
		Endpoint:     endpoint,
		ConnectionID: id,
		Active:       s.active.Load(),
		Dials:        s.dials.Load(),
		DialFailures: s.dialFailures.Load(),
		Requests:     s.requests.Load(),
		Responses:    s.responses.Load(),
		Dropped:      s.dropped.Load(),
		Closes:       s.closes.Load(),
		Reconnects:   s.reconnects.Load(),
		Rebalances:   s.rebalances.Load(),
		BytesIn:      s.bytesIn.Load(),
		BytesOut:     s.bytesOut.Load(),
		LastError:    lastErr,
		LastChange:   changed,
	}
}

func (s *Stats) setEndpoint(endpoint string) {
	s.mu.Lock()
	s.endpoint = endpoint
	s.lastChange = time.Now().UTC()
	s.mu.Unlock()
}

func (s *Stats) setConnectionID(id string) {
	s.mu.Lock()
	s.connectionID = id
	s.mu.Unlock()
}

func (s *Stats) setError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.lastError = err.Error()
	s.lastChange = time.Now().UTC()
	s.mu.Unlock()
}
