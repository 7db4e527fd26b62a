package mcp

/*
fallbackTools is the statically bundled descriptor set for the setlist
provider. It matches the provider's own declarations and keeps the host
usable when discovery fails; results built from it are flagged so
staleness stays diagnosable.
*/
func fallbackTools() []Tool {
	workspace := map[string]any{"type": "string", "description": "Workspace/session id"}
	return []Tool{
		{
			Name:        "add_song",
			Description: "Searches for a song, extracts features and files it into a playlist by heuristic.",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"title"},
				"properties": map[string]any{
					"title":           map[string]any{"type": "string", "description": "Song title"},
					"artists":         map[string]any{"type": "string", "description": "Artist(s), optional"},
					"candidate_index": map[string]any{"type": "integer", "description": "Index of the candidate to confirm"},
					"candidate_id":    map[string]any{"type": "string", "description": "ID of the candidate to confirm"},
					"workspace":       workspace,
				},
				"additionalProperties": true,
			},
		},
		{
			Name:        "list_playlists",
			Description: "Lists the playlists in the workspace.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"workspace": workspace,
				},
				"additionalProperties": false,
			},
		},
		{
			Name:        "get_playlist",
			Description: "Returns the songs and metadata of one playlist.",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"name"},
				"properties": map[string]any{
					"name":      map[string]any{"type": "string", "description": "Exact playlist name"},
					"workspace": workspace,
				},
				"additionalProperties": false,
			},
		},
		{
			Name:        "export_playlist",
			Description: "Exports a playlist to XLSX (song, bpm) and returns a file:// URI.",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"name"},
				"properties": map[string]any{
					"name":      map[string]any{"type": "string", "description": "Exact playlist name"},
					"workspace": workspace,
				},
				"additionalProperties": false,
			},
		},
		{
			Name:        "clear_library",
			Description: "Empties songs and associations; playlist names survive.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"workspace": workspace,
				},
				"additionalProperties": false,
			},
		},
	}
}

/*
alwaysInjectWorkspace is the compatibility allow-list: tools known to
require the workspace argument even when their published schema omits
it.
*/
var alwaysInjectWorkspace = map[string]bool{
	"add_song":        true,
	"list_playlists":  true,
	"get_playlist":    true,
	"export_playlist": true,
	"clear_library":   true,
}
