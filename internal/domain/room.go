package domain

import "time"

// SlotCount is the number of peer slots in a booth room.
const SlotCount = 2

// InitiatorSlot is the slot responsible for sending the negotiation offer.
const InitiatorSlot = 0

type RoomStatus struct {
	ID        string    `json:"room_id"`
	Peers     int       `json:"peers"`
	Full      bool      `json:"full"`
	CreatedAt time.Time `json:"created_at"`
}

type PeerSlot struct {
	Index    int
	PeerID   string
	JoinedAt time.Time
}

// ValidSlot reports whether i addresses one of the two room slots.
func ValidSlot(i int) bool {
	return i >= 0 && i < SlotCount
}
