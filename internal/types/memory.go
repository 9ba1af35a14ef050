package types

// Collection names in the document store.
const (
	CollectionAssets   = "assets"
	CollectionMemories = "memories"
)

// Memory is the user-authored parent document, decoded only as far as the
// reconciler needs it. The media array stays in raw form so merge-in-place
// preserves fields this service does not own.
type Memory struct {
	ID       string
	OwnerUID string
	AssetIDs []string
	Media    []any
}

func MemoryFromData(id string, data map[string]any) Memory {
	mem := Memory{ID: id, OwnerUID: getString(data, "ownerUid")}
	if ids, ok := data["assetIds"].([]any); ok {
		for _, v := range ids {
			if s, ok := v.(string); ok {
				mem.AssetIDs = append(mem.AssetIDs, s)
			}
		}
	}
	if media, ok := data["media"].([]any); ok {
		mem.Media = media
	}
	return mem
}

// MergeMediaEntry updates the entry matching summary.AssetID in place, or
// appends when absent. Matching entries keep any fields the summary does not
// carry; at most one entry per asset id is maintained.
func MergeMediaEntry(media []any, summary MediaSummary) []any {
	fields := summary.Fields()
	out := make([]any, len(media))
	copy(out, media)
	for i, v := range out {
		existing, ok := v.(map[string]any)
		if !ok || getString(existing, "assetId") != summary.AssetID {
			continue
		}
		merged := make(map[string]any, len(existing)+len(fields))
		for k, val := range existing {
			merged[k] = val
		}
		for k, val := range fields {
			merged[k] = val
		}
		out[i] = merged
		return out
	}
	return append(out, fields)
}
