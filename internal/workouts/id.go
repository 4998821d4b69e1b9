package workouts

import "github.com/google/uuid"

type uuidV7Provider struct{}

// NewUUIDv7Provider returns an IDProvider backed by time-ordered UUIDs, so
// identifiers issued on one device sort by creation.
func NewUUIDv7Provider() IDProvider {
	return uuidV7Provider{}
}

func (uuidV7Provider) NewID() (string, error) {
	identifier, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return identifier.String(), nil
}
