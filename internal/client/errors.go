package client

import "errors"

var (
	// ErrSyncUnavailable means fewer than a majority of clock samples succeeded.
	// Callers proceed with a zero offset.
	ErrSyncUnavailable = errors.New("clock sync unavailable")
	// ErrUploadFailed means the capture could not reach the asset store; the
	// capture belongs in the offline queue.
	ErrUploadFailed = errors.New("upload failed")
	// ErrJobFailed is a terminal composite error for the session.
	ErrJobFailed = errors.New("composite job failed")
	// ErrPollTimeout means the job never reached a terminal state within the
	// attempt budget. Show the local capture instead.
	ErrPollTimeout = errors.New("composite poll timed out")
	// ErrRoomFull is terminal for the room code.
	ErrRoomFull = errors.New("room is full")
	// ErrPartnerDisconnected is reported when the partner leaves mid-session.
	ErrPartnerDisconnected = errors.New("partner disconnected")
)
