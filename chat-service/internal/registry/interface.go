package registry

import "context"

// Registry records which profiles currently have a conversation open, so
// pushes are only sent to participants who are not already looking at it.
type Registry interface {
	Register(ctx context.Context, matchID, profileID string) error
	Deregister(ctx context.Context, matchID, profileID string) error
	IsPresent(ctx context.Context, matchID, profileID string) (bool, error)
	StartHeartbeat(ctx context.Context) error
	StopHeartbeat()
	Close() error
}
