package types

const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString holds credentials loaded from configuration (database URL,
// admin key hash, sender API keys). It renders as a placeholder through fmt
// and encoding/json so config dumps and log lines never carry the value.
type SecretString string

// String returns the redacted placeholder.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the raw value. Call it only at the point of use (driver
// DSN, Authorization header, bcrypt comparison).
func (s SecretString) Unmask() string {
	return string(s)
}
