package domain

import "errors"

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomFull      = errors.New("room is full")
	ErrPartnerAbsent = errors.New("partner not present")

	ErrJobExists         = errors.New("composite job already exists")
	ErrJobNotFound       = errors.New("composite job not found")
	ErrInvalidTransition = errors.New("invalid job status transition")

	ErrInvalidLayout = errors.New("invalid layout")
	ErrInvalidFilter = errors.New("invalid filter")
	ErrInvalidAsset  = errors.New("invalid asset reference")
)
