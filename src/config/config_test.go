package config

import "testing"

func TestResolveRelayAddressPrecedence(t *testing.T) {
	cfg := &Config{RelayAddress: "from-config:443"}

	if got, forced := ResolveRelayAddress("from-flag:443", cfg); got != "from-flag:443" || !forced {
		t.Fatalf("expected flag to win and be forced, got %q forced=%v", got, forced)
	}

	t.Setenv("FLASH_CAT_RELAY", "from-env:443")
	if got, forced := ResolveRelayAddress("", cfg); got != "from-env:443" || forced {
		t.Fatalf("expected env to win over config and not be forced, got %q forced=%v", got, forced)
	}

	t.Setenv("FLASH_CAT_RELAY", "")
	if got, forced := ResolveRelayAddress("", cfg); got != "from-config:443" || forced {
		t.Fatalf("expected config value and not forced, got %q forced=%v", got, forced)
	}

	if got, forced := ResolveRelayAddress("", &Config{}); got != DefaultRelayAddress || forced {
		t.Fatalf("expected default relay address and not forced, got %q forced=%v", got, forced)
	}
}

func TestLoadReturnsZeroValueWhenMissing(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RelayAddress != "" {
		t.Fatalf("expected empty relay address for missing config, got %q", cfg.RelayAddress)
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	want := &Config{
		Route:        "direct",
		Locale:       "en",
		RelayAddress: "relay.example.com:443",
		SavePath:     "/tmp/downloads",
		Theme:        "dark",
	}
	if err := Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if *got != *want {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}
