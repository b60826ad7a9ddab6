package codec

import (
	"encoding/base64"
	"encoding/json"

	licenseErrors "seatlock/internal/errors"
)

// DecodeLegacy decodes the unauthenticated base64-JSON format produced by
// pre-v2 issuers. The result is marked SecurityLevelLegacy; callers that need
// integrity guarantees should treat it accordingly. This path is read-only:
// new artifacts are always emitted in the v2 format.
func DecodeLegacy(artifact string) (*Payload, error) {
	raw, err := base64.StdEncoding.DecodeString(artifact)
	if err != nil {
		// Some legacy tooling emitted URL-safe encoding.
		raw, err = base64.URLEncoding.DecodeString(artifact)
		if err != nil {
			return nil, licenseErrors.NewFormatError("artifact is neither v2 nor legacy base64")
		}
	}

	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, licenseErrors.NewFormatError("legacy payload is not valid JSON")
	}
	if err := payload.Validate(); err != nil {
		return nil, licenseErrors.NewFormatError(err.Error())
	}

	payload.SecurityLevel = SecurityLevelLegacy
	return &payload, nil
}

// EncodeLegacy exists only for tests and migration tooling; production code
// never writes the legacy format.
func EncodeLegacy(payload *Payload) (string, error) {
	if err := payload.Validate(); err != nil {
		return "", licenseErrors.NewFormatError(err.Error())
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
