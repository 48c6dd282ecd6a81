package chat

import "time"

// civilZone is the fixed display timezone for message timestamps (UTC+8).
// Timestamps are stamped server-side; callers never supply them.
var civilZone = time.FixedZone("UTC+8", 8*60*60)

// civilFormat renders civil timestamps, e.g. "2025-05-22 18:52:37".
const civilFormat = "2006-01-02 15:04:05"

// LogEntry is one immutable stored chat message within a room's log.
//
// It is a tagged record with required fields so malformed stored records fail
// at deserialization instead of propagating missing keys downstream.
type LogEntry struct {
	RoomID    string `json:"room_id"`
	Username  string `json:"username"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	Unix      int64  `json:"unix"`
}

func newEntry(roomID, username, text string, now time.Time) LogEntry {
	civil := now.In(civilZone)
	return LogEntry{
		RoomID:    roomID,
		Username:  username,
		Text:      text,
		Timestamp: civil.Format(civilFormat),
		Unix:      civil.Unix(),
	}
}
