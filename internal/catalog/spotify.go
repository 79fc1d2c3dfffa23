package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jamstream/server/internal/domain"
	"github.com/jamstream/server/pkg/errors"
	"github.com/jamstream/server/pkg/logger"
)

// SpotifyClient is the Spotify Web API client.
type SpotifyClient struct {
	baseURL string
	client  *http.Client
	logger  logger.Logger
}

// SpotifyConfig holds Spotify client configuration.
type SpotifyConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NewSpotifyClient creates a new Spotify client instance.
func NewSpotifyClient(cfg SpotifyConfig, log logger.Logger) *SpotifyClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.spotify.com/v1"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &SpotifyClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  log,
	}
}

type spotifyTrack struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Album struct {
		Name   string `json:"name"`
		Images []struct {
			URL string `json:"url"`
		} `json:"images"`
	} `json:"album"`
	DurationMs   int64 `json:"duration_ms"`
	ExternalURLs struct {
		Spotify string `json:"spotify"`
	} `json:"external_urls"`
}

func (t *spotifyTrack) toDomain() *domain.Track {
	track := &domain.Track{
		ID:          t.ID,
		Name:        t.Name,
		Album:       t.Album.Name,
		DurationMs:  t.DurationMs,
		ExternalURL: t.ExternalURLs.Spotify,
	}
	names := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		names = append(names, a.Name)
	}
	track.Artist = strings.Join(names, ", ")
	if len(t.Album.Images) > 0 {
		track.AlbumArt = t.Album.Images[0].URL
	}
	return track
}

// GetTrack looks up track metadata by track ID.
func (c *SpotifyClient) GetTrack(ctx context.Context, accessToken, trackID string) (*domain.Track, error) {
	var track spotifyTrack
	if err := c.get(ctx, accessToken, "/tracks/"+url.PathEscape(trackID), &track); err != nil {
		return nil, err
	}
	return track.toDomain(), nil
}

// SearchTracks searches the catalog by free text.
func (c *SpotifyClient) SearchTracks(ctx context.Context, accessToken, query string, limit int) ([]domain.Track, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("type", "track")
	params.Set("limit", fmt.Sprintf("%d", limit))

	var result struct {
		Tracks struct {
			Items []spotifyTrack `json:"items"`
		} `json:"tracks"`
	}
	if err := c.get(ctx, accessToken, "/search?"+params.Encode(), &result); err != nil {
		return nil, err
	}

	tracks := make([]domain.Track, 0, len(result.Tracks.Items))
	for i := range result.Tracks.Items {
		tracks = append(tracks, *result.Tracks.Items[i].toDomain())
	}
	return tracks, nil
}

// ListDevices lists the listener's playback devices.
func (c *SpotifyClient) ListDevices(ctx context.Context, accessToken string) ([]Device, error) {
	var result struct {
		Devices []struct {
			ID            string `json:"id"`
			Name          string `json:"name"`
			Type          string `json:"type"`
			IsActive      bool   `json:"is_active"`
			VolumePercent int    `json:"volume_percent"`
		} `json:"devices"`
	}
	if err := c.get(ctx, accessToken, "/me/player/devices", &result); err != nil {
		return nil, err
	}

	devices := make([]Device, 0, len(result.Devices))
	for _, d := range result.Devices {
		devices = append(devices, Device{
			ID:        d.ID,
			Name:      d.Name,
			Type:      d.Type,
			IsActive:  d.IsActive,
			VolumePct: d.VolumePercent,
		})
	}
	return devices, nil
}

// Play starts or resumes playback on the active device.
func (c *SpotifyClient) Play(ctx context.Context, accessToken, trackID string, positionMs int64) error {
	body := map[string]interface{}{"position_ms": positionMs}
	if trackID != "" {
		body["uris"] = []string{"spotify:track:" + trackID}
	}
	return c.send(ctx, accessToken, http.MethodPut, "/me/player/play", body)
}

// Pause pauses playback on the active device.
func (c *SpotifyClient) Pause(ctx context.Context, accessToken string) error {
	return c.send(ctx, accessToken, http.MethodPut, "/me/player/pause", nil)
}

// Seek moves playback to the given position.
func (c *SpotifyClient) Seek(ctx context.Context, accessToken string, positionMs int64) error {
	path := fmt.Sprintf("/me/player/seek?position_ms=%d", positionMs)
	return c.send(ctx, accessToken, http.MethodPut, path, nil)
}

// CreatePlaylist creates a playlist and adds the given tracks.
func (c *SpotifyClient) CreatePlaylist(ctx context.Context, accessToken, providerUserID, name string, trackIDs []string) (*Playlist, error) {
	var created struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		ExternalURLs struct {
			Spotify string `json:"spotify"`
		} `json:"external_urls"`
	}

	createBody := map[string]interface{}{
		"name":        name,
		"public":      false,
		"description": "Exported from a Jam Rooms session",
	}
	path := fmt.Sprintf("/users/%s/playlists", url.PathEscape(providerUserID))
	if err := c.do(ctx, accessToken, http.MethodPost, path, createBody, &created); err != nil {
		return nil, err
	}

	// Spotify caps a single add call at 100 URIs; history is bounded to 100
	// entries so one call is always enough.
	if len(trackIDs) > 0 {
		uris := make([]string, 0, len(trackIDs))
		for _, id := range trackIDs {
			uris = append(uris, "spotify:track:"+id)
		}
		addPath := fmt.Sprintf("/playlists/%s/tracks", url.PathEscape(created.ID))
		if err := c.send(ctx, accessToken, http.MethodPost, addPath, map[string]interface{}{"uris": uris}); err != nil {
			return nil, err
		}
	}

	return &Playlist{
		ID:          created.ID,
		Name:        created.Name,
		ExternalURL: created.ExternalURLs.Spotify,
		TrackCount:  len(trackIDs),
	}, nil
}

// get performs an authorized GET and decodes the JSON response into out.
func (c *SpotifyClient) get(ctx context.Context, accessToken, path string, out interface{}) error {
	return c.do(ctx, accessToken, http.MethodGet, path, nil, out)
}

// send performs an authorized request and discards the response body.
func (c *SpotifyClient) send(ctx context.Context, accessToken, method, path string, body interface{}) error {
	return c.do(ctx, accessToken, method, path, body, nil)
}

func (c *SpotifyClient) do(ctx context.Context, accessToken, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.ErrUpstreamError.WithError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		if strings.Contains(path, "/me/player") {
			return errors.ErrNoDevice
		}
		return errors.ErrTrackNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errors.ErrTokenInvalid.WithMessage("Provider rejected the access token")
	case resp.StatusCode >= 400:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("provider API error",
			logger.String("path", path),
			logger.Int("status", resp.StatusCode),
			logger.String("body", string(payload)))
		return errors.ErrUpstreamError.WithMessage(fmt.Sprintf("Provider returned status %d", resp.StatusCode))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.ErrUpstreamError.WithError(fmt.Errorf("failed to decode response: %w", err))
		}
	}
	return nil
}
