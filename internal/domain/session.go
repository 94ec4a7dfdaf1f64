package domain

import "time"

// CaptureSession is one synchronized-capture attempt inside a room.
// FireAt is expressed in authority epoch milliseconds.
type CaptureSession struct {
	ID        string
	RoomID    string
	FireAt    int64
	Render    RenderConfig
	CreatedAt time.Time
}

type UploadAnnouncement struct {
	SessionID string
	PeerIndex int
	AssetRef  string
}
