package idconfig

import (
	"fmt"
	"regexp"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_\-]{1,255}$`)

// ValidateKey checks the key naming rule (spec §3).
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("key must be 1-255 characters from [A-Za-z0-9_-]")
	}
	return nil
}

// Validate checks cfg's invariants per spec §3. IdConfig carries no
// validator struct tags, so the struct-tag pass in DecodeAndValidate checks
// nothing for it and these checks are the whole of its validation.
func Validate(cfg *IdConfig) error {
	if err := ValidateKey(cfg.Key); err != nil {
		return err
	}

	switch cfg.IDType {
	case IDTypeIncrement:
		return validateIncrement(cfg.Increment)
	case IDTypeSnowflake:
		return validateSnowflake(cfg.Snowflake)
	case IDTypeFormatted:
		return validateFormatted(cfg.Formatted)
	default:
		return fmt.Errorf("unknown id_type %q", cfg.IDType)
	}
}

func validateIncrement(c *IncrementConfig) error {
	if c == nil {
		return fmt.Errorf("increment config is required")
	}
	if c.Delta < 1 {
		return fmt.Errorf("delta must be >= 1")
	}
	if c.MaxRequestDelta < 1 {
		return fmt.Errorf("max_request_delta must be >= 1")
	}
	return nil
}

func validateSnowflake(c *SnowflakeConfig) error {
	if c == nil {
		return fmt.Errorf("snowflake config is required")
	}
	if c.SkipSize < 1 || c.TsSize < 1 || c.WorkerIDSize < 1 || c.SeqSize < 1 {
		return fmt.Errorf("skip_size, ts_size, worker_id_size, seq_size must each be >= 1")
	}
	total := int(c.SkipSize) + int(c.TsSize) + int(c.WorkerIDSize) + int(c.SeqSize)
	if total > 64 {
		return fmt.Errorf("skip_size + ts_size + worker_id_size + seq_size = %d, must be <= 64", total)
	}
	return nil
}

func validateFormatted(c *FormattedConfig) error {
	if c == nil || len(c.Parts) == 0 {
		return fmt.Errorf("formatted config must have at least one part")
	}

	autoIncCount := 0
	for i, p := range c.Parts {
		switch p.Type {
		case PartFixedChars:
			if p.Value == "" {
				return fmt.Errorf("part %d: fixed_chars requires value", i)
			}
		case PartFixedPollingChar:
			if p.Chars == "" {
				return fmt.Errorf("part %d: fixed_polling_char requires chars", i)
			}
		case PartFixedRandomChars:
			if p.Chars == "" || p.Length < 1 {
				return fmt.Errorf("part %d: fixed_random_chars requires chars and length >= 1", i)
			}
		case PartDateFormat:
			if p.Pattern == "" {
				return fmt.Errorf("part %d: date_format requires pattern", i)
			}
		case PartTimestamp:
			// base_ts may legitimately be zero (unix epoch).
		case PartUnixSeconds:
			// base may legitimately be zero.
		case PartAutoIncrement:
			autoIncCount++
			if err := validateAutoIncrement(p, i); err != nil {
				return err
			}
		default:
			return fmt.Errorf("part %d: unknown part type %q", i, p.Type)
		}
	}

	if autoIncCount != 1 {
		return fmt.Errorf("formatted config must have exactly one auto_increment part, got %d", autoIncCount)
	}
	return nil
}

func validateAutoIncrement(p Part, i int) error {
	if p.Length < 1 {
		return fmt.Errorf("part %d: auto_increment requires length >= 1", i)
	}
	if p.PaddingMode != PaddingPrefix && p.PaddingMode != PaddingSuffix {
		return fmt.Errorf("part %d: auto_increment padding_mode must be %q or %q", i, PaddingPrefix, PaddingSuffix)
	}
	if p.NumberBase < 2 || p.NumberBase > 36 {
		return fmt.Errorf("part %d: auto_increment number_base must be in [2,36]", i)
	}
	switch p.ResetScope {
	case ResetScopeNone, ResetScopeYear, ResetScopeMonth, ResetScopeDate:
	default:
		return fmt.Errorf("part %d: auto_increment reset_scope must be one of none/year/month/date", i)
	}
	return nil
}
