// Package protocol defines the tagged messages exchanged over the booth relay channel.
package protocol

import (
	"encoding/json"
	"strings"
)

type Type string

// Server -> client
const (
	TypeJoined        Type = "JOINED"
	TypePartnerJoined Type = "PARTNER_JOINED"
	TypePartnerLeft   Type = "PARTNER_LEFT"
	TypeFireAt        Type = "FIRE_AT"
	TypeError         Type = "ERROR"
	TypePong          Type = "PONG"
	TypeTimePong      Type = "TIME_PONG"
)

// Client -> server
const (
	TypeCaptureRequest Type = "CAPTURE_REQUEST"
	TypeStitchReady    Type = "STITCH_READY"
	TypePing           Type = "PING"
	TypeTimePing       Type = "TIME_PING"
)

// Negotiation kinds, relayed verbatim.
const (
	TypeOffer        Type = "OFFER"
	TypeAnswer       Type = "ANSWER"
	TypeICECandidate Type = "ICE_CANDIDATE"
)

// Error reasons
const (
	ReasonRoomFull       = "room is full"
	ReasonPartnerAbsent  = "partner not present"
	ReasonInvalidMessage = "invalid message"
)

// Message is the flat envelope {type, ...payload}. Only the fields that belong to
// Type are populated.
type Message struct {
	Type Type `json:"type"`

	RoomID     string `json:"room_id,omitempty"`
	PeerID     string `json:"peer_id,omitempty"`
	PeerIndex  *int   `json:"peer_index,omitempty"`
	PeersCount int    `json:"peers_count,omitempty"`

	SessionID string `json:"session_id,omitempty"`
	FireAt    int64  `json:"fire_at,omitempty"`
	AssetRef  string `json:"asset_ref,omitempty"`
	Layout    string `json:"layout,omitempty"`
	Filter    string `json:"filter,omitempty"`

	ClientSendTime int64 `json:"client_send_time,omitempty"`
	ServerRecvTime int64 `json:"server_recv_time,omitempty"`

	Reason string `json:"reason,omitempty"`
}

// Index returns the peer index carried by m, or -1 when it is absent.
func (m Message) Index() int {
	if m.PeerIndex == nil {
		return -1
	}
	return *m.PeerIndex
}

// Sender is the outbound half of a relay connection.
type Sender interface {
	Send(msg Message) error
	SendRaw(data []byte) error
}

func Joined(roomID, peerID string, index, count int) Message {
	return Message{Type: TypeJoined, RoomID: roomID, PeerID: peerID, PeerIndex: &index, PeersCount: count}
}

func PartnerJoined(count int) Message {
	return Message{Type: TypePartnerJoined, PeersCount: count}
}

func PartnerLeft() Message {
	return Message{Type: TypePartnerLeft}
}

func FireAt(sessionID string, fireAt int64) Message {
	return Message{Type: TypeFireAt, SessionID: sessionID, FireAt: fireAt}
}

func Error(reason string) Message {
	return Message{Type: TypeError, Reason: reason}
}

func StitchReady(sessionID string, index int, assetRef string) Message {
	return Message{Type: TypeStitchReady, SessionID: sessionID, PeerIndex: &index, AssetRef: assetRef}
}

func CaptureRequest(layout, filter string) Message {
	return Message{Type: TypeCaptureRequest, Layout: layout, Filter: filter}
}

// NegotiationKind maps the accepted spellings of a negotiation tag to the
// canonical type. ok is false for anything that is not a negotiation payload.
func NegotiationKind(raw string) (Type, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "offer":
		return TypeOffer, true
	case "answer":
		return TypeAnswer, true
	case "ice_candidate", "ice-candidate", "candidate", "ice":
		return TypeICECandidate, true
	default:
		return "", false
	}
}

// Retag rewrites the type of an opaque negotiation object and stamps the sender slot.
// Every other field is carried through byte for byte.
func Retag(data []byte, kind Type, from int) ([]byte, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	t, _ := json.Marshal(kind)
	f, _ := json.Marshal(from)
	obj["type"] = t
	obj["from"] = f

	return json.Marshal(obj)
}
