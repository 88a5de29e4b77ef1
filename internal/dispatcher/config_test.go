package dispatcher

import (
	"testing"
	"time"
)

func TestMemoryConfig_WithDefaults(t *testing.T) {
	t.Parallel()

	cfg := MemoryConfig{BufferSize: -1, Workers: -5}.withDefaults()

	if cfg.BufferSize != 10000 {
		t.Errorf("Expected BufferSize 10000, got %d", cfg.BufferSize)
	}
	if cfg.Workers != 10 {
		t.Errorf("Expected Workers 10, got %d", cfg.Workers)
	}
	if cfg.HTTPTimeout != 10*time.Second {
		t.Errorf("Expected HTTPTimeout 10s, got %v", cfg.HTTPTimeout)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("Expected MaxRetries 3, got %d", cfg.MaxRetries)
	}
	if cfg.BreakerThreshold != 5 || cfg.BreakerCooldown != 30*time.Second || cfg.MaxRequeues != 10 {
		t.Errorf("unexpected breaker defaults %+v", cfg)
	}
}

func TestMemoryConfig_WithDefaults_NoRetries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   int
		want int
	}{
		{"sentinel", NoRetries, NoRetries},
		{"any negative", -7, NoRetries},
		{"explicit", 5, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := MemoryConfig{MaxRetries: tt.in}.withDefaults()
			if cfg.MaxRetries != tt.want {
				t.Errorf("MaxRetries = %d, want %d", cfg.MaxRetries, tt.want)
			}
			// Applying defaults twice must not re-enable retries.
			if again := cfg.withDefaults(); again.MaxRetries != tt.want {
				t.Errorf("second withDefaults() MaxRetries = %d, want %d", again.MaxRetries, tt.want)
			}
		})
	}
}

func TestMemoryConfig_WithDefaults_PreservesValidValues(t *testing.T) {
	t.Parallel()

	in := MemoryConfig{
		BufferSize:       5,
		Workers:          2,
		HTTPTimeout:      time.Second,
		MaxRetries:       1,
		RetryInitial:     time.Millisecond,
		BreakerThreshold: 2,
		BreakerCooldown:  time.Minute,
		MaxRequeues:      3,
	}
	if got := in.withDefaults(); got != in {
		t.Errorf("withDefaults() = %+v, want %+v", got, in)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DISPATCHER_WORKERS", "3")
	t.Setenv("DISPATCHER_BREAKER_COOLDOWN", "5s")

	cfg := LoadConfigFromEnv()
	if cfg.Workers != 3 {
		t.Errorf("Expected Workers 3, got %d", cfg.Workers)
	}
	if cfg.BreakerCooldown != 5*time.Second {
		t.Errorf("Expected cooldown 5s, got %v", cfg.BreakerCooldown)
	}
}
