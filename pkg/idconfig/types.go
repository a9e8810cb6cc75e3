// Package idconfig implements the Admin config service (spec §3, §4.3's
// config half, §6's /v1/config/* surface): the tagged-union IdConfig model,
// its invariant validation, and CRUD over storage.Backend.
package idconfig

import "time"

// IDType discriminates the IdConfig tagged union.
type IDType string

const (
	IDTypeIncrement IDType = "increment"
	IDTypeSnowflake IDType = "snowflake"
	IDTypeFormatted IDType = "formatted"
)

// IncrementConfig is the Increment variant of IdConfig (spec §3).
type IncrementConfig struct {
	Base            int64 `json:"base"`
	Delta           int64 `json:"delta"`
	MaxRequestDelta int64 `json:"max_request_delta"`
	RandDelta       bool  `json:"rand_delta"`
}

// SnowflakeConfig is the Snowflake variant of IdConfig (spec §3).
type SnowflakeConfig struct {
	SkipSize     uint8 `json:"skip_size"`
	BaseTS       int64 `json:"base_ts"`
	TsSize       uint8 `json:"ts_size"`
	WorkerIDSize uint8 `json:"worker_id_size"`
	SeqSize      uint8 `json:"seq_size"`
}

// PartType discriminates a Formatted Part.
type PartType string

const (
	PartFixedChars       PartType = "fixed_chars"
	PartFixedPollingChar PartType = "fixed_polling_char"
	PartFixedRandomChars PartType = "fixed_random_chars"
	PartDateFormat       PartType = "date_format"
	PartTimestamp        PartType = "timestamp"
	PartUnixSeconds      PartType = "unix_seconds"
	PartAutoIncrement    PartType = "auto_increment"
)

// Padding modes and reset scopes for the AutoIncrement part (spec §3).
const (
	PaddingPrefix = "prefix"
	PaddingSuffix = "suffix"

	ResetScopeNone  = "none"
	ResetScopeYear  = "year"
	ResetScopeMonth = "month"
	ResetScopeDate  = "date"
)

// Part is the Formatted template's part sum type, flattened into one struct
// with a Type discriminator — the fields relevant to each variant are
// documented per-field. Unused fields for a given Type are simply zero.
type Part struct {
	Type PartType `json:"type"`

	Value string `json:"value,omitempty"` // FixedChars

	Chars string `json:"chars,omitempty"` // FixedPollingChar, FixedRandomChars

	Length int `json:"length,omitempty"` // FixedRandomChars, AutoIncrement

	Pattern string `json:"pattern,omitempty"` // DateFormat
	TZ      string `json:"tz,omitempty"`      // DateFormat

	BaseTS int64 `json:"base_ts,omitempty"` // Timestamp
	Base   int64 `json:"base,omitempty"`    // UnixSeconds

	LengthFixed bool   `json:"length_fixed,omitempty"` // AutoIncrement
	PaddingMode string `json:"padding_mode,omitempty"`
	PaddingChar string `json:"padding_char,omitempty"`
	NumberBase  int    `json:"number_base,omitempty"`
	ResetScope  string `json:"reset_scope,omitempty"`
}

// FormattedConfig is the Formatted variant of IdConfig (spec §3).
type FormattedConfig struct {
	Parts []Part `json:"parts"`
}

// IdConfig is the tagged union stored per key. Exactly one of Increment,
// Snowflake, Formatted is populated, matching IDType.
type IdConfig struct {
	Key       string           `json:"key"`
	IDType    IDType           `json:"id_type"`
	Increment *IncrementConfig `json:"increment,omitempty"`
	Snowflake *SnowflakeConfig `json:"snowflake,omitempty"`
	Formatted *FormattedConfig `json:"formatted,omitempty"`
	UpdatedAt time.Time        `json:"updated_at,omitempty"`
}

// ListItem is a single row of /v1/config/list.
type ListItem struct {
	Key    string `json:"key"`
	IDType IDType `json:"id_type"`
}

// ListResult is the body of /v1/config/list.
type ListResult struct {
	Items      []ListItem `json:"items"`
	NextCursor string     `json:"next_cursor,omitempty"`
	HasMore    bool       `json:"has_more"`
}
