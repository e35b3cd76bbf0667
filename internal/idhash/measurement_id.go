package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ComputeMeasurementID computes a deterministic measurement ID using SHA256.
// Formula: SHA256(source_id|band_id|observation_time_micros)
// Returns hex-encoded hash (64 characters).
//
// A re-ingested observation hashes to the same ID, so duplicate
// deliveries collide on the primary key instead of creating twins.
func ComputeMeasurementID(sourceID, bandID string, observedAt time.Time) string {
	data := fmt.Sprintf("%s|%s|%d",
		sourceID,
		bandID,
		observedAt.UnixMicro(),
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
