package rtc

import (
	"strings"

	"github.com/pion/sdp/v3"
)

// MediaFlags медиа признаки, найденные в SDP
type MediaFlags struct {
	Video  bool
	Stereo bool
}

// Inspect определяет наличие видео секции и stereo=1 в SDP.
// Если SDP не разбирается, используется поиск подстрок "m=video" и
// "stereo=1" не с начала строки.
func Inspect(raw string) MediaFlags {
	if raw == "" {
		return MediaFlags{}
	}

	desc := &sdp.SessionDescription{}
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return MediaFlags{
			Video:  strings.Index(raw, "m=video") > 0,
			Stereo: strings.Index(raw, "stereo=1") > 0,
		}
	}

	var flags MediaFlags
	for _, media := range desc.MediaDescriptions {
		if media.MediaName.Media == "video" {
			flags.Video = true
		}
		for _, attr := range media.Attributes {
			if attr.Key == "fmtp" && strings.Contains(attr.Value, "stereo=1") {
				flags.Stereo = true
			}
		}
	}
	return flags
}
