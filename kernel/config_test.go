package kernel

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"zero value", Config{}, false},
		{"custom command", Config{Command: []string{"/venv/bin/python", "-m", "ipykernel", "-f", "{connection_file}"}}, false},
		{"placeholder inside arg", Config{Command: []string{"kernel", "--conn={connection_file}"}}, false},
		{"empty executable", Config{Command: []string{" ", "{connection_file}"}}, true},
		{"missing placeholder", Config{Command: []string{"python3", "-m", "ipykernel"}}, true},
		{"negative startup timeout", Config{StartupTimeout: -time.Second}, true},
		{"negative shutdown timeout", Config{ShutdownTimeout: -time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrConfiguration) {
					t.Errorf("expected ErrConfiguration, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()

	if !reflect.DeepEqual(cfg.Command, DefaultCommand()) {
		t.Errorf("Command = %v", cfg.Command)
	}
	if cfg.IP != DefaultIP {
		t.Errorf("IP = %q", cfg.IP)
	}
	if cfg.StartupTimeout != DefaultStartupTimeout || cfg.ShutdownTimeout != DefaultShutdownTimeout {
		t.Errorf("timeouts = %v/%v", cfg.StartupTimeout, cfg.ShutdownTimeout)
	}
	if !reflect.DeepEqual(cfg.StartupCode, DefaultStartupCode()) {
		t.Errorf("StartupCode = %v", cfg.StartupCode)
	}
	if cfg.Logger == nil {
		t.Error("expected a default logger")
	}
}

func TestConfig_EmptyStartupCodeIsKept(t *testing.T) {
	cfg := Config{StartupCode: []string{}}
	cfg.applyDefaults()
	if len(cfg.StartupCode) != 0 {
		t.Errorf("empty startup code should disable it, got %v", cfg.StartupCode)
	}
}

func TestConfig_Argv(t *testing.T) {
	cfg := Config{Command: []string{"python3", "-f", "{connection_file}", "--x={connection_file}"}}
	got := cfg.argv("/tmp/k.json")
	want := []string{"python3", "-f", "/tmp/k.json", "--x=/tmp/k.json"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("argv = %v, want %v", got, want)
	}
	if cfg.Command[2] != "{connection_file}" {
		t.Error("argv must not modify Command")
	}
}
