package tunnel

import "fmt"

// MessageType is the frame discriminator. Values are fixed on the wire.
type MessageType int32

const (
	TypeNone                MessageType = 0
	TypeHTTPRequest         MessageType = 1
	TypeHTTPResponse        MessageType = 2
	TypeServiceStatus       MessageType = 5
	TypeConnectionReconnect MessageType = 6
	TypeConnectionClose     MessageType = 7
	TypeConnectionRebalance MessageType = 8
	TypeConnectionConnected MessageType = 10
)

func (t MessageType) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeHTTPRequest:
		return "http_request"
	case TypeHTTPResponse:
		return "http_response"
	case TypeServiceStatus:
		return "service_status"
	case TypeConnectionReconnect:
		return "connection_reconnect"
	case TypeConnectionClose:
		return "connection_close"
	case TypeConnectionRebalance:
		return "connection_rebalance"
	case TypeConnectionConnected:
		return "connection_connected"
	default:
		return fmt.Sprintf("type(%d)", int32(t))
	}
}

// Message is one tunnel message variant.
type Message interface {
	Type() MessageType
	Header() *Base
}

// ContentMessage is a variant that carries a binary body outside its JSON.
type ContentMessage interface {
	Message
	Body() []byte
	SetBody([]byte)
}

// Base is the header shared by every variant. Kind is stamped by the
// encoder from Type().
type Base struct {
	Kind      MessageType `json:"Type"`
	TracingID *uint64     `json:"TracingId,omitempty"`
}

func (b *Base) Header() *Base { return b }

type HTTPRequest struct {
	Base
	AckID        int32               `json:"AckId"`
	LocalRouting bool                `json:"LocalRouting"`
	ChannelName  string              `json:"ChannelName"`
	HTTPMethod   string              `json:"HttpMethod"`
	URL          string              `json:"Url"`
	Headers      map[string][]string `json:"Headers"`
	Content      []byte              `json:"-"`
}

func (m *HTTPRequest) Type() MessageType { return TypeHTTPRequest }
func (m *HTTPRequest) Body() []byte      { return m.Content }
func (m *HTTPRequest) SetBody(b []byte)  { m.Content = b }

// HTTPResponse answers the HTTPRequest with the same AckID. A body too large
// for one frame is sent as several responses, all but the last with
// NotCompleted set.
type HTTPResponse struct {
	Base
	AckID        int32               `json:"AckId"`
	LocalRouting bool                `json:"LocalRouting"`
	StatusCode   int32               `json:"StatusCode"`
	ChannelName  string              `json:"ChannelName"`
	Headers      map[string][]string `json:"Headers"`
	NotCompleted bool                `json:"NotCompleted"`
	Content      []byte              `json:"-"`
}

func (m *HTTPResponse) Type() MessageType { return TypeHTTPResponse }
func (m *HTTPResponse) Body() []byte      { return m.Content }
func (m *HTTPResponse) SetBody(b []byte)  { m.Content = b }

type ServiceStatus struct {
	Base
	Message string `json:"Message"`
}

func (m *ServiceStatus) Type() MessageType { return TypeServiceStatus }

type ConnectionClose struct {
	Base
	Message string `json:"Message"`
}

func (m *ConnectionClose) Type() MessageType { return TypeConnectionClose }

// ConnectionReconnect asks the client to drop this connection and dial
// Endpoint instead.
type ConnectionReconnect struct {
	Base
	TargetID string `json:"TargetId"`
	Endpoint string `json:"Endpoint"`
	Message  string `json:"Message"`
}

func (m *ConnectionReconnect) Type() MessageType { return TypeConnectionReconnect }

// ConnectionRebalance asks the client to open an additional connection to
// Endpoint while keeping this one.
type ConnectionRebalance struct {
	Base
	TargetID string `json:"TargetId"`
	Endpoint string `json:"Endpoint"`
	Message  string `json:"Message"`
}

func (m *ConnectionRebalance) Type() MessageType { return TypeConnectionRebalance }

type ConnectionConnected struct {
	Base
	ConnectionID      string  `json:"ConnectionId"`
	UserID            *string `json:"UserId"`
	ReconnectionToken *string `json:"ReconnectionToken"`
}

func (m *ConnectionConnected) Type() MessageType { return TypeConnectionConnected }

// NewMessage returns an empty variant for t. It is the single map between
// discriminators and variant structs.
func NewMessage(t MessageType) (Message, error) {
	var msg Message
	switch t {
	case TypeHTTPRequest:
		msg = &HTTPRequest{}
	case TypeHTTPResponse:
		msg = &HTTPResponse{}
	case TypeServiceStatus:
		msg = &ServiceStatus{}
	case TypeConnectionClose:
		msg = &ConnectionClose{}
	case TypeConnectionReconnect:
		msg = &ConnectionReconnect{}
	case TypeConnectionRebalance:
		msg = &ConnectionRebalance{}
	case TypeConnectionConnected:
		msg = &ConnectionConnected{}
	default:
		return nil, UnknownTypeError{Type: t}
	}
	msg.Header().Kind = t
	return msg, nil
}

// normalize fills the nil collections a decoded variant must not expose.
func normalize(m Message) {
	switch v := m.(type) {
	case *HTTPRequest:
		if v.Headers == nil {
			v.Headers = map[string][]string{}
		}
		if v.Content == nil {
			v.Content = []byte{}
		}
	case *HTTPResponse:
		if v.Headers == nil {
			v.Headers = map[string][]string{}
		}
		if v.Content == nil {
			v.Content = []byte{}
		}
	}
}
