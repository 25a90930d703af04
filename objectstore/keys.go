package objectstore

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// S3 rejects keys longer than 1024 bytes.
const maxKeyBytes = 1024

// Base names are clipped before the timestamp and hash are prepended, so
// repeated moves cannot grow the key without bound.
const maxBaseNameLength = 100

var (
	// ErrInvalidKey is returned when the source key has no base name.
	ErrInvalidKey = errors.New("invalid object key: base name is missing")

	// ErrKeyTooLong is returned when the composed key exceeds the S3 limit.
	ErrKeyTooLong = errors.New("generated object key exceeds 1024 bytes")
)

// A previously generated key starts with "{timestamp}_{hex}_"; strip it so
// a re-moved object keeps its original base name.
var disambiguatorPrefix = regexp.MustCompile(`^\d+_[a-f0-9]+_`)

// UniqueKey derives a collision-resistant destination key for moving
// originalKey under targetPrefix. The result is
// "{targetPrefix}/{timestamp}_{hash}_{baseName}": two calls with the same
// original key at different instants produce different keys.
func UniqueKey(originalKey, targetPrefix string, now time.Time) (string, error) {
	segments := strings.Split(originalKey, "/")
	baseName := segments[len(segments)-1]
	if baseName == "" {
		return "", ErrInvalidKey
	}

	cleanName := disambiguatorPrefix.ReplaceAllString(baseName, "")
	if len(cleanName) > maxBaseNameLength {
		cleanName = cleanName[:maxBaseNameLength]
	}

	timestamp := now.UnixMilli()
	candidate := fmt.Sprintf("%s/%d_%s", targetPrefix, timestamp, cleanName)
	sum := md5.Sum([]byte(candidate))
	key := fmt.Sprintf("%s/%d_%s_%s", targetPrefix, timestamp, hex.EncodeToString(sum[:]), cleanName)

	if len(key) > maxKeyBytes {
		return "", ErrKeyTooLong
	}
	return key, nil
}
