package profile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Profile is the persisted per-user record. ID always equals the owning
// auth user's id.
type Profile struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Username     *string   `json:"username"`
	AvatarURL    *string   `json:"avatar_url"`
	Bio          *string   `json:"bio"`
	SkinType     []string  `json:"skin_type"`
	SkinConcerns []string  `json:"skin_concerns"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Optional marks whether a field takes part in a partial update. The zero
// value is absent; Some(nil) for a pointer type means "set to null".
type Optional[T any] struct {
	value T
	set   bool
}

// Some returns a present Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, set: true}
}

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.set
}

func (o Optional[T]) IsSet() bool {
	return o.set
}

// SkinTypeInput is the raw skin_type value of an update: a list, a single
// string, or null (the zero value).
type SkinTypeInput struct {
	list   []string
	text   string
	isText bool
}

// SkinTypeList builds a list-valued input.
func SkinTypeList(values ...string) SkinTypeInput {
	if values == nil {
		values = []string{}
	}
	return SkinTypeInput{list: values}
}

// SkinTypeText builds a single-string input.
func SkinTypeText(s string) SkinTypeInput {
	return SkinTypeInput{text: s, isText: true}
}

// Normalize trims entries and drops empty ones. A result with no entries is
// nil, which is stored as null.
func (in SkinTypeInput) Normalize() []string {
	if in.isText {
		s := strings.TrimSpace(in.text)
		if s == "" {
			return nil
		}
		return []string{s}
	}
	return NormalizeSkinType(in.list)
}

// NormalizeSkinType trims every entry and drops blanks, returning nil when
// nothing is left.
func NormalizeSkinType(values []string) []string {
	var out []string
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// UnmarshalJSON accepts an array of strings, a string, or null.
func (in *SkinTypeInput) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*in = SkinTypeInput{}
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*in = SkinTypeText(s)
		return nil
	case len(data) > 0 && data[0] == '[':
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("skin_type must be a list of strings: %w", err)
		}
		*in = SkinTypeList(list...)
		return nil
	default:
		return fmt.Errorf("skin_type must be a list, a string, or null")
	}
}

// Changes is a partial profile update coming from the user. Only present
// fields are written.
type Changes struct {
	Username     Optional[*string]
	AvatarURL    Optional[*string]
	Bio          Optional[*string]
	SkinType     Optional[SkinTypeInput]
	SkinConcerns Optional[[]string]
}

// UnmarshalJSON records which keys were present in the object so that
// missing keys stay absent and explicit nulls become Some(nil).
func (c *Changes) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var out Changes
	for key, value := range raw {
		var err error
		switch key {
		case "username":
			out.Username, err = decodeNullableString(value)
		case "avatar_url":
			out.AvatarURL, err = decodeNullableString(value)
		case "bio":
			out.Bio, err = decodeNullableString(value)
		case "skin_type":
			var in SkinTypeInput
			err = json.Unmarshal(value, &in)
			out.SkinType = Some(in)
		case "skin_concerns":
			var list []string
			err = json.Unmarshal(value, &list)
			out.SkinConcerns = Some(list)
		default:
			return fmt.Errorf("unknown profile field %q", key)
		}
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	*c = out
	return nil
}

func decodeNullableString(value json.RawMessage) (Optional[*string], error) {
	var s *string
	if err := json.Unmarshal(value, &s); err != nil {
		return Optional[*string]{}, err
	}
	return Some(s), nil
}

// Upsert is the write payload for the profiles table. ID and Email are
// always written; the remaining columns only when present.
type Upsert struct {
	ID           uuid.UUID
	Email        string
	Username     Optional[*string]
	AvatarURL    Optional[*string]
	Bio          Optional[*string]
	SkinType     Optional[[]string]
	SkinConcerns Optional[[]string]
}

// ApplyChanges copies the present fields of c into u, normalizing skin_type.
func (u *Upsert) ApplyChanges(c Changes) {
	if v, ok := c.Username.Get(); ok {
		u.Username = Some(v)
	}
	if v, ok := c.AvatarURL.Get(); ok {
		u.AvatarURL = Some(v)
	}
	if v, ok := c.Bio.Get(); ok {
		u.Bio = Some(v)
	}
	if v, ok := c.SkinType.Get(); ok {
		u.SkinType = Some(v.Normalize())
	}
	if v, ok := c.SkinConcerns.Get(); ok {
		u.SkinConcerns = Some(v)
	}
}
