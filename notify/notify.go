// Package notify defines the wire contract between synthesized batch scripts
// and the notification receiver. The script side POSTs a signed JSON payload;
// this package owns the signature scheme so tests and any future in-process
// sender agree with the shell implementation byte for byte.
package notify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Event is the closed set of notification events.
type Event string

const (
	EventStarted     Event = "STARTED"
	EventCompleted   Event = "COMPLETED"
	EventFailed      Event = "FAILED"
	EventResubmitted Event = "RESUBMITTED"
)

// ValidEvent reports membership in the event enum.
func ValidEvent(e Event) bool {
	switch e {
	case EventStarted, EventCompleted, EventFailed, EventResubmitted:
		return true
	}
	return false
}

// MaxSkew is the accepted distance between payload epoch and receiver clock.
const MaxSkew = 10 * time.Minute

// Payload is the POSTed notification body.
type Payload struct {
	User    string `json:"user"`
	JobID   string `json:"jobId"`
	JobName string `json:"jobName"`
	Event   Event  `json:"event"`
	Node    string `json:"node"`
	TS      string `json:"ts"`    // ISO-8601
	Epoch   int64  `json:"epoch"` // unix seconds
	Sig     string `json:"sig"`
}

// Sign computes hex(HMAC-SHA256(secret, "user:jobId:event:epoch")).
func Sign(secret, user, jobID string, event Event, epoch int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s:%s:%s:%d", user, jobID, event, epoch)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a payload the way the receiver does: signature, event enum,
// and timestamp skew. Rate limiting is the receiver's own concern.
func Verify(secret string, p Payload, now time.Time) error {
	if !ValidEvent(p.Event) {
		return fmt.Errorf("unknown event %q", p.Event)
	}
	skew := now.Sub(time.Unix(p.Epoch, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > MaxSkew {
		return fmt.Errorf("timestamp skew %s exceeds %s", skew, MaxSkew)
	}
	want := Sign(secret, p.User, p.JobID, p.Event, p.Epoch)
	if !hmac.Equal([]byte(want), []byte(p.Sig)) {
		return fmt.Errorf("bad signature")
	}
	return nil
}
