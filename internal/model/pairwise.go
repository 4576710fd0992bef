package model

import (
	"time"
)

// PairwiseSecret holds one shared secret per unordered device pair,
// stored as two independently-addressed ciphertexts. DeviceAID is
// always the smaller identifier; the CHECK constraint and the unique
// pair index both depend on that ordering.
type PairwiseSecret struct {
	ID                  string    `db:"id" json:"id"`
	UserID              string    `db:"user_id" json:"userId"`
	DeviceAID           string    `db:"device_a_id" json:"deviceAId"`
	DeviceBID           string    `db:"device_b_id" json:"deviceBId"`
	EncryptedSecretForA string    `db:"encrypted_secret_for_a" json:"encryptedSecretForA"`
	EncryptedSecretForB string    `db:"encrypted_secret_for_b" json:"encryptedSecretForB"`
	EphemeralKeyForA    string    `db:"ephemeral_key_for_a" json:"ephemeralKeyForA"`
	EphemeralKeyForB    string    `db:"ephemeral_key_for_b" json:"ephemeralKeyForB"`
	KeyAlgorithm        string    `db:"key_algorithm" json:"keyAlgorithm"`
	CreatedAt           time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time `db:"updated_at" json:"updatedAt"`
}

type UpsertPairwiseSecretParams struct {
	UserID              string
	DeviceAID           string
	DeviceBID           string
	EncryptedSecretForA string
	EncryptedSecretForB string
	EphemeralKeyForA    string
	EphemeralKeyForB    string
	KeyAlgorithm        string
}

// CanonicalPair orders two device identifiers so the smaller one is
// first. Storing (X, Y) and (Y, X) must resolve to the same row.
func CanonicalPair(deviceX, deviceY string) (deviceA, deviceB string, swapped bool) {
	if deviceX <= deviceY {
		return deviceX, deviceY, false
	}
	return deviceY, deviceX, true
}

// PairContext is the HKDF salt used when sealing the pair's secret for
// each side. Both devices derive it identically from the canonical order.
func PairContext(deviceA, deviceB string) string {
	return deviceA + ":" + deviceB
}
