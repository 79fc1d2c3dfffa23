// Package catalog talks to the external music provider: track metadata,
// search, device transport control and playlist export.
//
// All calls are keyed by the listener's provider access token. Metadata
// lookups are enrichment only - callers are expected to degrade gracefully
// when they fail. Device transport calls are primary effects and their
// failures must reach the caller.
package catalog

import (
	"context"

	"github.com/jamstream/server/internal/domain"
)

// Device is a playback device registered with the provider.
type Device struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	IsActive  bool   `json:"is_active"`
	VolumePct int    `json:"volume_pct"`
}

// Playlist is a provider-side playlist created by an export.
type Playlist struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ExternalURL string `json:"external_url"`
	TrackCount  int    `json:"track_count"`
}

// Client is the provider API surface the server depends on.
type Client interface {
	// GetTrack looks up track metadata by provider track ID.
	GetTrack(ctx context.Context, accessToken, trackID string) (*domain.Track, error)

	// SearchTracks searches the provider catalog by free text.
	SearchTracks(ctx context.Context, accessToken, query string, limit int) ([]domain.Track, error)

	// ListDevices lists the listener's playback devices.
	ListDevices(ctx context.Context, accessToken string) ([]Device, error)

	// Play starts or resumes playback on the listener's active device.
	Play(ctx context.Context, accessToken, trackID string, positionMs int64) error

	// Pause pauses playback on the listener's active device.
	Pause(ctx context.Context, accessToken string) error

	// Seek moves playback to the given position.
	Seek(ctx context.Context, accessToken string, positionMs int64) error

	// CreatePlaylist creates a playlist with the given tracks and returns it.
	CreatePlaylist(ctx context.Context, accessToken, providerUserID, name string, trackIDs []string) (*Playlist, error)
}
