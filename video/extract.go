package video

import (
	"regexp"
	"strings"
)

const idLength = 11

var idPattern = regexp.MustCompile(`^.*(youtu\.be/|v/|u/\w/|embed/|shorts/|live/|watch\?v=|&v=)([^#&?]*).*`)

// ExtractID returns the 11 character video id found in ref, which may be a
// bare id or any of the known share, watch and embed URL shapes. When no id
// can be derived the reference is returned verbatim so playback is still
// attempted. The result is non-empty for every non-empty ref; an empty ref
// yields "" and Gate.Load refuses it.
func ExtractID(ref string) string {
	m := idPattern.FindStringSubmatch(strings.TrimSpace(ref))
	if m != nil && len(m[2]) == idLength {
		return m[2]
	}
	return ref
}
