package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type IDType string

const (
	IDTypeHandoff       IDType = "hof"
	IDTypeInputRequest  IDType = "inp"
	IDTypeInputResponse IDType = "inr"
)

var validIDTypes = map[IDType]bool{
	IDTypeHandoff:       true,
	IDTypeInputRequest:  true,
	IDTypeInputResponse: true,
}

var idRegex = regexp.MustCompile(`^(hof|inp|inr)_[0-9]{10}_[0-9a-f]{8}$`)

// GenerateID returns a sortable, prefixed identifier: <type>_<unix seconds>_<8 hex>.
func GenerateID(idType IDType) (string, error) {
	if !validIDTypes[idType] {
		return "", fmt.Errorf("invalid ID type: %s", idType)
	}

	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	return fmt.Sprintf("%s_%010d_%s", idType, time.Now().Unix(), hex.EncodeToString(randomBytes)), nil
}

// NewUUID returns a random (v4) UUID string. Used for messages and artifacts,
// which travel outside the handoff store and follow the A2A id convention.
func NewUUID() string {
	return uuid.NewString()
}

func ValidateID(id string) bool {
	return idRegex.MatchString(id)
}

func ParseIDType(id string) (IDType, error) {
	if !ValidateID(id) {
		return "", fmt.Errorf("invalid ID format: %s", id)
	}
	match := idRegex.FindStringSubmatch(id)
	return IDType(match[1]), nil
}

func ParseIDTimestamp(id string) (time.Time, error) {
	if !ValidateID(id) {
		return time.Time{}, fmt.Errorf("invalid ID format: %s", id)
	}
	tsStr := id[len(id)-19 : len(id)-9]
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp from ID %s: %w", id, err)
	}
	return time.Unix(ts, 0), nil
}

// Now returns the current time in UTC. All persisted timestamps go through it.
func Now() time.Time {
	return time.Now().UTC()
}

// FormatTime renders t as RFC3339 with nanoseconds so that records created
// within the same second still order by creation time.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
