// Package authority derives and verifies the rotating check-out codes shown
// on an event's display surface. A code is a deterministic function of the
// event id and the current 60-second wall-clock bucket, so nothing about an
// issued code is ever stored: validation recomputes and compares.
package authority

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	// BucketSeconds is the rotation unit for issued codes.
	BucketSeconds = 60

	// CodeLength is the number of hash characters kept for the code.
	CodeLength = 4

	qrImageSize = 256
)

// ErrInvalidFormat reports a presented code that is not a 4-character
// alphanumeric string after normalization.
var ErrInvalidFormat = errors.New("code is not a 4-character alphanumeric string")

// IssuedCode is the renderable result of issuing a code for an event.
type IssuedCode struct {
	EventID  uuid.UUID `json:"event_id"`
	Code     string    `json:"code"`
	Bucket   int64     `json:"bucket"`
	IssuedAt time.Time `json:"issued_at"`
	// ExpiresAt is the latest instant a verifying call can still accept the
	// code, given the one-bucket grace on validation.
	ExpiresAt time.Time `json:"expires_at"`
	// QRCodePNG is a base64-encoded PNG rendering of the code for scanning.
	QRCodePNG string `json:"qr_code_png"`
}

// Authority issues and verifies time-windowed check-out codes. The zero
// value is not usable; construct with New.
type Authority struct {
	now func() time.Time
}

// Option configures an Authority.
type Option func(*Authority)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Authority) {
		a.now = now
	}
}

// New creates a code authority.
func New(opts ...Option) *Authority {
	a := &Authority{now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Bucket returns the 60-second wall-clock bucket index for t.
func Bucket(t time.Time) int64 {
	return t.Unix() / BucketSeconds
}

// CodeForBucket derives the code for an event at a specific bucket. The
// seed format and MD5 truncation are the wire-compatible contract with the
// deployed display surfaces; there is no server-held key in the mix.
func CodeForBucket(eventID uuid.UUID, bucket int64) string {
	seed := fmt.Sprintf("%s-exit-%d", eventID, bucket)
	sum := md5.Sum([]byte(seed))
	return strings.ToUpper(hex.EncodeToString(sum[:])[:CodeLength])
}

// Normalize trims and uppercases a presented code and validates its shape.
// It returns ErrInvalidFormat for anything that is not exactly 4
// alphanumeric characters.
func Normalize(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if len(code) != CodeLength {
		return "", ErrInvalidFormat
	}
	for _, r := range code {
		if (r < '0' || r > '9') && (r < 'A' || r > 'Z') {
			return "", ErrInvalidFormat
		}
	}
	return code, nil
}

// Issue derives the current code for an event and renders it as a scannable
// QR image. It has no side effects: any number of concurrent calls within
// the same bucket return the identical code.
func (a *Authority) Issue(eventID uuid.UUID) (*IssuedCode, error) {
	now := a.now()
	bucket := Bucket(now)
	code := CodeForBucket(eventID, bucket)

	png, err := qrcode.Encode(code, qrcode.Medium, qrImageSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to render code as QR image")
	}

	return &IssuedCode{
		EventID:  eventID,
		Code:     code,
		Bucket:   bucket,
		IssuedAt: now,
		// Accepted during bucket b and b+1, so the hard cutoff is the end
		// of the bucket after the issuing one.
		ExpiresAt: time.Unix((bucket+2)*BucketSeconds, 0),
		QRCodePNG: base64.StdEncoding.EncodeToString(png),
	}, nil
}

// Verify reports whether a normalized code matches the event's code for the
// current or the immediately preceding bucket. The single-bucket grace
// absorbs the read-then-submit latency without extending exposure past two
// rotations.
func (a *Authority) Verify(eventID uuid.UUID, code string) bool {
	current := Bucket(a.now())
	for _, offset := range []int64{0, -1} {
		if CodeForBucket(eventID, current+offset) == code {
			return true
		}
	}
	return false
}
