package report

import (
	"fmt"
	"regexp"
	"strconv"
)

// linkPattern matches three consecutive numeric path segments, the shape of a
// message link: .../<guild>/<channel>/<message>.
var linkPattern = regexp.MustCompile(`/(\d+)/(\d+)/(\d+)`)

// ItemRef identifies a message by guild (container), channel (sub-container)
// and message id.
type ItemRef struct {
	GuildID   uint64 `json:"guild_id"`
	ChannelID uint64 `json:"channel_id"`
	MessageID uint64 `json:"message_id"`
}

func (r ItemRef) String() string {
	return fmt.Sprintf("%d/%d/%d", r.GuildID, r.ChannelID, r.MessageID)
}

// ParseLink extracts the first guild/channel/message triple found anywhere in
// text. It reports false when no triple is present, or when the first one
// does not fit in 64-bit ids; later triples are never tried.
func ParseLink(text string) (ItemRef, bool) {
	m := linkPattern.FindStringSubmatch(text)
	if m == nil {
		return ItemRef{}, false
	}

	var ids [3]uint64
	for i := range ids {
		id, err := strconv.ParseUint(m[i+1], 10, 64)
		if err != nil {
			return ItemRef{}, false
		}
		ids[i] = id
	}
	return ItemRef{GuildID: ids[0], ChannelID: ids[1], MessageID: ids[2]}, true
}
