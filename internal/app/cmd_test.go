package app

import (
	"testing"
)

func TestParseCommand_DefaultsToServe(t *testing.T) {
	cmd := ParseCommand([]string{})
	if cmd != CommandServe {
		t.Errorf("ParseCommand([]) = %q, want %q", cmd, CommandServe)
	}
}

func TestParseCommand_Serve(t *testing.T) {
	cmd := ParseCommand([]string{"serve"})
	if cmd != CommandServe {
		t.Errorf("ParseCommand([serve]) = %q, want %q", cmd, CommandServe)
	}
}

func TestParseCommand_Migrate(t *testing.T) {
	cmd := ParseCommand([]string{"migrate"})
	if cmd != CommandMigrate {
		t.Errorf("ParseCommand([migrate]) = %q, want %q", cmd, CommandMigrate)
	}
}

func TestParseCommand_Healthcheck(t *testing.T) {
	cmd := ParseCommand([]string{"healthcheck"})
	if cmd != CommandHealthcheck {
		t.Errorf("ParseCommand([healthcheck]) = %q, want %q", cmd, CommandHealthcheck)
	}
}

func TestParseCommand_UnknownDefaultsToServe(t *testing.T) {
	cmd := ParseCommand([]string{"worker"})
	if cmd != CommandServe {
		t.Errorf("ParseCommand([worker]) = %q, want %q", cmd, CommandServe)
	}
}

func TestParseMigrateDirection(t *testing.T) {
	tests := []struct {
		args []string
		want MigrateDirection
	}{
		{[]string{"migrate"}, MigrateUp},
		{[]string{"migrate", "up"}, MigrateUp},
		{[]string{"migrate", "down"}, MigrateDown},
		{[]string{"serve", "down"}, MigrateUp},
		{nil, MigrateUp},
	}

	for _, tt := range tests {
		if got := ParseMigrateDirection(tt.args); got != tt.want {
			t.Errorf("ParseMigrateDirection(%v) = %q, want %q", tt.args, got, tt.want)
		}
	}
}
