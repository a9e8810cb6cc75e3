package idconfig

import "testing"

func TestValidateKey(t *testing.T) {
	cases := []struct {
		key string
		ok  bool
	}{
		{"orders", true},
		{"order-2025_q1", true},
		{"", false},
		{"has space", false},
		{"has/slash", false},
	}
	for _, tt := range cases {
		err := ValidateKey(tt.key)
		if tt.ok && err != nil {
			t.Errorf("ValidateKey(%q): expected ok, got %v", tt.key, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("ValidateKey(%q): expected error, got nil", tt.key)
		}
	}
}

func TestValidateIncrement(t *testing.T) {
	ok := &IdConfig{Key: "k", IDType: IDTypeIncrement, Increment: &IncrementConfig{Base: 1, Delta: 1, MaxRequestDelta: 100}}
	if err := Validate(ok); err != nil {
		t.Errorf("expected valid, got %v", err)
	}

	missingDelta := &IdConfig{Key: "k", IDType: IDTypeIncrement, Increment: &IncrementConfig{Delta: 0, MaxRequestDelta: 1}}
	if err := Validate(missingDelta); err == nil {
		t.Error("expected error for delta < 1")
	}

	nilConfig := &IdConfig{Key: "k", IDType: IDTypeIncrement}
	if err := Validate(nilConfig); err == nil {
		t.Error("expected error for missing increment config")
	}
}

func TestValidateSnowflakeBitWidth(t *testing.T) {
	tooWide := &IdConfig{Key: "k", IDType: IDTypeSnowflake, Snowflake: &SnowflakeConfig{
		SkipSize: 1, TsSize: 41, WorkerIDSize: 20, SeqSize: 12, // sums to 74
	}}
	if err := Validate(tooWide); err == nil {
		t.Error("expected error for bit width > 64")
	}

	fits := &IdConfig{Key: "k", IDType: IDTypeSnowflake, Snowflake: &SnowflakeConfig{
		SkipSize: 1, TsSize: 41, WorkerIDSize: 10, SeqSize: 12, // sums to 64
	}}
	if err := Validate(fits); err != nil {
		t.Errorf("expected valid, got %v", err)
	}
}

func TestValidateFormattedRequiresExactlyOneAutoIncrement(t *testing.T) {
	none := &IdConfig{Key: "k", IDType: IDTypeFormatted, Formatted: &FormattedConfig{
		Parts: []Part{{Type: PartFixedChars, Value: "INV"}},
	}}
	if err := Validate(none); err == nil {
		t.Error("expected error for zero auto_increment parts")
	}

	two := &IdConfig{Key: "k", IDType: IDTypeFormatted, Formatted: &FormattedConfig{
		Parts: []Part{
			{Type: PartAutoIncrement, Length: 4, PaddingMode: PaddingPrefix, PaddingChar: "0", NumberBase: 10, ResetScope: ResetScopeNone},
			{Type: PartAutoIncrement, Length: 4, PaddingMode: PaddingPrefix, PaddingChar: "0", NumberBase: 10, ResetScope: ResetScopeNone},
		},
	}}
	if err := Validate(two); err == nil {
		t.Error("expected error for two auto_increment parts")
	}

	one := &IdConfig{Key: "k", IDType: IDTypeFormatted, Formatted: &FormattedConfig{
		Parts: []Part{
			{Type: PartFixedChars, Value: "INV"},
			{Type: PartAutoIncrement, Length: 4, PaddingMode: PaddingPrefix, PaddingChar: "0", NumberBase: 10, ResetScope: ResetScopeDate},
		},
	}}
	if err := Validate(one); err != nil {
		t.Errorf("expected valid, got %v", err)
	}
}

func TestValidateAutoIncrementResetScope(t *testing.T) {
	cfg := &IdConfig{Key: "k", IDType: IDTypeFormatted, Formatted: &FormattedConfig{
		Parts: []Part{
			{Type: PartAutoIncrement, Length: 4, PaddingMode: PaddingPrefix, PaddingChar: "0", NumberBase: 10, ResetScope: "quarterly"},
		},
	}}
	if err := Validate(cfg); err == nil {
		t.Error("expected error for unknown reset_scope")
	}
}
