package youtube

import (
	"errors"
	"fmt"
	"regexp"
)

var ErrBadVideoID = errors.New("youtube: not a video id or watch url")

var (
	bareVideoIDRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`)
	watchURLRe    = regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/)([a-zA-Z0-9_-]{11})`)
	liveURLRe     = regexp.MustCompile(`youtube\.com/live/([a-zA-Z0-9_-]{11})`)
)

// ExtractVideoID accepts a bare 11 character video id, a watch url, a
// youtu.be short url or a /live/ url and returns the video id.
func ExtractVideoID(videoIDOrURL string) (string, error) {
	if bareVideoIDRe.MatchString(videoIDOrURL) {
		return videoIDOrURL, nil
	}

	for _, re := range []*regexp.Regexp{watchURLRe, liveURLRe} {
		if match := re.FindStringSubmatch(videoIDOrURL); match != nil {
			return match[1], nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrBadVideoID, videoIDOrURL)
}
