package rewind

import (
	"strings"

	"rewindwatch/internal/model"
)

// ChoosePreferred implements PreferencePolicy from spec §4.E, run once
// at session creation (and again whenever a session's playback_id
// changes — see DESIGN.md's Open Question resolution).
func ChoosePreferred(available []model.SubtitleStream, positive, negative []string, preferExternal bool) *model.SubtitleStream {
	if len(available) == 0 {
		return nil
	}

	var candidates []model.SubtitleStream
	for _, s := range available {
		if matchesAll(s, positive) && matchesNone(s, negative) {
			candidates = append(candidates, s)
		}
	}

	switch len(candidates) {
	case 1:
		return &candidates[0]
	case 0:
		return fallback(available, preferExternal)
	default:
		if preferExternal {
			if ext := firstExternal(candidates); ext != nil {
				return ext
			}
		}
		return &candidates[0]
	}
}

func fallback(available []model.SubtitleStream, preferExternal bool) *model.SubtitleStream {
	if preferExternal {
		if ext := firstExternal(available); ext != nil {
			return ext
		}
	}
	return &available[0]
}

func firstExternal(streams []model.SubtitleStream) *model.SubtitleStream {
	for i := range streams {
		if streams[i].IsExternal {
			return &streams[i]
		}
	}
	return nil
}

func matchesAll(s model.SubtitleStream, patterns []string) bool {
	title := strings.ToLower(s.DisplayTitle())
	for _, p := range patterns {
		if !strings.Contains(title, strings.ToLower(p)) {
			return false
		}
	}
	return true
}

func matchesNone(s model.SubtitleStream, patterns []string) bool {
	title := strings.ToLower(s.DisplayTitle())
	for _, p := range patterns {
		if strings.Contains(title, strings.ToLower(p)) {
			return false
		}
	}
	return true
}
