package mcp

import (
	"context"
	"fmt"
)

/*
Typed wrappers over Invoke for the known setlist tools. Each wrapper
shapes arguments the way the provider expects and decodes the common
pieces of the reply; anything it does not model stays reachable through
the returned ToolResult.
*/

// AddSongOptions carries the optional disambiguation selectors for a
// repeated add_song call after a confirmation round.
type AddSongOptions struct {
	CandidateIndex *int
	CandidateID    string
	Confirm        bool
	Workspace      string
}

// AddSongOutcome is the decoded success reply of add_song.
type AddSongOutcome struct {
	Status string
	Song   map[string]any
	Result *ToolResult
}

/*
AddSong resolves a song and stores it in the library. When the provider
answers with a candidate list instead of a selection, the call fails
with a ConfirmationError carrying the candidates; re-invoke with
CandidateIndex or CandidateID to settle it.
*/
func (a *Adapter) AddSong(ctx context.Context, title string, artists []string, opts AddSongOptions) (*AddSongOutcome, error) {
	if title == "" {
		return nil, fmt.Errorf("song title must not be empty")
	}
	args := map[string]any{"title": title}
	if len(artists) > 0 {
		args["artists"] = artists
	}
	if opts.CandidateIndex != nil {
		args["candidate_index"] = *opts.CandidateIndex
	}
	if opts.CandidateID != "" {
		args["candidate_id"] = opts.CandidateID
	}
	if opts.Confirm {
		args["confirm"] = true
	}
	if opts.Workspace != "" {
		args["workspace"] = opts.Workspace
	}

	result, err := a.Invoke(ctx, "add_song", args)
	if err != nil {
		return nil, err
	}
	payload := statusPayload(result)
	// Providers report the stored track as "chosen"; accept "song" as a
	// variant of the same field.
	song := asMap(payload["chosen"])
	if song == nil {
		song = asMap(payload["song"])
	}
	return &AddSongOutcome{
		Status: asString(payload["status"]),
		Song:   song,
		Result: result,
	}, nil
}

// ListPlaylists returns the playlist summaries for the workspace.
func (a *Adapter) ListPlaylists(ctx context.Context) ([]map[string]any, error) {
	result, err := a.Invoke(ctx, "list_playlists", map[string]any{})
	if err != nil {
		return nil, err
	}
	payload := statusPayload(result)
	var playlists []map[string]any
	if items, ok := payload["playlists"].([]any); ok {
		for _, it := range items {
			if m, ok := it.(map[string]any); ok {
				playlists = append(playlists, m)
			}
		}
	}
	return playlists, nil
}

// GetPlaylist fetches one playlist with its ordered songs.
func (a *Adapter) GetPlaylist(ctx context.Context, name string) (map[string]any, error) {
	if name == "" {
		return nil, fmt.Errorf("playlist name must not be empty")
	}
	result, err := a.Invoke(ctx, "get_playlist", map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	payload := statusPayload(result)
	if pl := asMap(payload["playlist"]); pl != nil {
		return pl, nil
	}
	return payload, nil
}

// ExportPlaylist asks the provider to write a playlist export and
// returns the provider-reported destination path.
func (a *Adapter) ExportPlaylist(ctx context.Context, name, format string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("playlist name must not be empty")
	}
	args := map[string]any{"name": name}
	if format != "" {
		args["format"] = format
	}
	result, err := a.Invoke(ctx, "export_playlist", args)
	if err != nil {
		return "", err
	}
	payload := statusPayload(result)
	if path := asString(payload["path"]); path != "" {
		return path, nil
	}
	return result.Text(), nil
}

// ClearLibrary wipes the workspace's library and playlists.
func (a *Adapter) ClearLibrary(ctx context.Context) error {
	_, err := a.Invoke(ctx, "clear_library", map[string]any{})
	return err
}
