// Package formatted implements the Formatted-ID Renderer (spec §4.4): a
// templated-part pipeline driven by a single AutoIncrement counter that
// piggy-backs on the Sequence Manager under a derived key, with date/month/
// year reset scoping.
package formatted

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/idbuilder/worker/pkg/idconfig"
)

// renderPart emits one part's string for counter value n at wall-clock now.
// AutoIncrement and FixedPollingChar depend on n; FixedRandomChars draws from
// rng; the remaining parts depend only on now and their own configuration.
func renderPart(p idconfig.Part, now time.Time, n int64, rng *rand.Rand) (string, error) {
	switch p.Type {
	case idconfig.PartFixedChars:
		return p.Value, nil

	case idconfig.PartFixedPollingChar:
		if len(p.Chars) == 0 {
			return "", fmt.Errorf("formatted: fixed_polling_char part has empty chars")
		}
		idx := ((n % int64(len(p.Chars))) + int64(len(p.Chars))) % int64(len(p.Chars))
		return string(p.Chars[idx]), nil

	case idconfig.PartFixedRandomChars:
		if len(p.Chars) == 0 {
			return "", fmt.Errorf("formatted: fixed_random_chars part has empty chars")
		}
		var sb strings.Builder
		for i := 0; i < p.Length; i++ {
			sb.WriteByte(p.Chars[rng.IntN(len(p.Chars))])
		}
		return sb.String(), nil

	case idconfig.PartDateFormat:
		loc := time.UTC
		if p.TZ != "" {
			l, err := time.LoadLocation(p.TZ)
			if err != nil {
				return "", fmt.Errorf("formatted: loading tz %q: %w", p.TZ, err)
			}
			loc = l
		}
		return formatDate(now.In(loc), p.Pattern), nil

	case idconfig.PartTimestamp:
		return strconv.FormatInt(now.UnixMilli()-p.BaseTS, 10), nil

	case idconfig.PartUnixSeconds:
		return strconv.FormatInt(now.Unix()-p.Base, 10), nil

	case idconfig.PartAutoIncrement:
		return renderAutoIncrement(p, n), nil

	default:
		return "", fmt.Errorf("formatted: unknown part type %q", p.Type)
	}
}

func renderAutoIncrement(p idconfig.Part, n int64) string {
	base := p.NumberBase
	if base < 2 || base > 36 {
		base = 10
	}
	digits := strconv.FormatInt(n, base)

	if !p.LengthFixed || p.Length <= 0 {
		return digits
	}
	if len(digits) >= p.Length {
		return digits
	}

	padChar := p.PaddingChar
	if padChar == "" {
		padChar = "0"
	}
	pad := strings.Repeat(padChar, p.Length-len(digits))
	if p.PaddingMode == idconfig.PaddingSuffix {
		return digits + pad
	}
	return pad + digits
}

// formatDate substitutes run-length-encoded pattern letters (spec §4.4: at
// minimum yyyy MM dd HH mm ss) with t's fields, zero-padded to the run
// length. Any other letter run, and all non-letter characters, pass through
// literally.
func formatDate(t time.Time, pattern string) string {
	var sb strings.Builder
	i := 0
	for i < len(pattern) {
		c := pattern[i]
		j := i + 1
		for j < len(pattern) && pattern[j] == c {
			j++
		}
		run := j - i
		sb.WriteString(dateToken(t, c, run, pattern[i:j]))
		i = j
	}
	return sb.String()
}

func dateToken(t time.Time, letter byte, run int, literal string) string {
	switch letter {
	case 'y':
		return padInt(t.Year(), run)
	case 'M':
		return padInt(int(t.Month()), run)
	case 'd':
		return padInt(t.Day(), run)
	case 'H':
		return padInt(t.Hour(), run)
	case 'm':
		return padInt(t.Minute(), run)
	case 's':
		return padInt(t.Second(), run)
	default:
		return literal
	}
}

func padInt(v, width int) string {
	s := strconv.Itoa(v)
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}
