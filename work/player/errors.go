package player

import "fmt"

// UnsupportedFormatError means no playback path exists for the URL with the client's
// capabilities.
type UnsupportedFormatError struct {
	URL    string
	Reason string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported format: %s", e.Reason)
}

// PlaybackError is an unrecoverable decoder or sink failure, reported after the native
// fallback (if any) was exhausted.
type PlaybackError struct {
	Fatal  bool
	Detail string
}

func (e *PlaybackError) Error() string {
	if e.Fatal {
		return "playback failed: " + e.Detail
	}
	return "playback error: " + e.Detail
}

// AutoplayBlockedError is returned by a sink whose Play was refused until the user
// interacts with the page. Playback is ready, it only needs a gesture.
type AutoplayBlockedError struct {
	Detail string
}

func (e *AutoplayBlockedError) Error() string {
	if e.Detail == "" {
		return "autoplay blocked"
	}
	return "autoplay blocked: " + e.Detail
}
