package groups

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Metadata keys for the built-in group parameters.
const (
	ParamUsers     = "users"
	ParamIsEdit    = "is_edit"
	ParamInvisible = "invisible"
)

// Parameter describes one metadata key a group may carry. The closed
// registry replaces free-form property bags: stores reject writes to
// unregistered keys.
type Parameter struct {
	// Key is the metadata key.
	Key string

	// Inverse marks parameters whose unset state means "matches".
	// Visibility works this way: a group with no invisible record is
	// visible.
	Inverse bool

	// Validate checks an encoded value before it is written. Nil means
	// any value is accepted.
	Validate func(value string) error
}

// Registry holds the known group parameters.
type Registry struct {
	params map[string]Parameter
}

// NewRegistry creates a registry seeded with the built-in parameters.
func NewRegistry() *Registry {
	r := &Registry{params: make(map[string]Parameter)}
	for _, p := range builtInParameters() {
		r.params[p.Key] = p
	}
	return r
}

// Register adds a parameter. Re-registering a key replaces it.
func (r *Registry) Register(p Parameter) error {
	if p.Key == "" {
		return fmt.Errorf("parameter key must not be empty")
	}
	r.params[p.Key] = p
	return nil
}

// Lookup returns the parameter for a key.
func (r *Registry) Lookup(key string) (Parameter, bool) {
	p, ok := r.params[key]
	return p, ok
}

// ValidateValue checks a value against the registered parameter.
func (r *Registry) ValidateValue(key, value string) error {
	p, ok := r.params[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParameter, key)
	}
	if p.Validate != nil {
		return p.Validate(value)
	}
	return nil
}

// Keys returns the registered parameter keys.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.params))
	for k := range r.params {
		keys = append(keys, k)
	}
	return keys
}

func builtInParameters() []Parameter {
	return []Parameter{
		{
			Key: ParamUsers,
			Validate: func(value string) error {
				var ids []int64
				if err := json.Unmarshal([]byte(value), &ids); err != nil {
					return fmt.Errorf("users must be a JSON array of IDs: %w", err)
				}
				return nil
			},
		},
		{
			Key:      ParamIsEdit,
			Validate: validateBool,
		},
		{
			Key:      ParamInvisible,
			Inverse:  true,
			Validate: validateBool,
		},
	}
}

func validateBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("value must be boolean: %w", err)
	}
	return nil
}

// encodeUsers serializes a user ID list for storage.
func encodeUsers(ids []int64) (string, error) {
	if ids == nil {
		ids = []int64{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("failed to marshal users: %w", err)
	}
	return string(data), nil
}

// decodeUsers parses a stored user ID list.
func decodeUsers(value string) ([]int64, error) {
	if value == "" {
		return nil, nil
	}
	var ids []int64
	if err := json.Unmarshal([]byte(value), &ids); err != nil {
		return nil, fmt.Errorf("failed to unmarshal users: %w", err)
	}
	return ids, nil
}
