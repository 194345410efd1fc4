package migration_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/waypointdb/waypoint/pkg/migration"
)

func TestParseDirectives(t *testing.T) {
	tests := []struct {
		name         string
		content      string
		wantErr      bool
		wantEnv      []string
		wantDepends  []string
		wantRequire  []string
		wantEnsure   []string
		wantOverride bool
		description  string
	}{
		{
			name:        "no_header",
			content:     "CREATE TABLE t (id int);",
			description: "Plain SQL has no directives",
		},
		{
			name:        "plain_comments_only",
			content:     "-- setup tables\n-- written 2024-01-01\nCREATE TABLE t (id int);",
			description: "Comment lines without the marker are not directives",
		},
		{
			name:        "env_single",
			content:     "-- waypoint:env prod\nSELECT 1;",
			wantEnv:     []string{"prod"},
			description: "Single environment should parse",
		},
		{
			name:        "env_list",
			content:     "-- waypoint:env prod, staging\nSELECT 1;",
			wantEnv:     []string{"prod", "staging"},
			description: "Comma lists are trimmed per item",
		},
		{
			name:        "depends_list",
			content:     "-- waypoint:depends 1, 2.1\nSELECT 1;",
			wantDepends: []string{"1", "2.1"},
			description: "Depends values parse as versions",
		},
		{
			name:        "require_and_ensure",
			content:     "-- waypoint:require table_exists('public', 'users')\n-- waypoint:ensure row_count('public', 'users') > 0\nSELECT 1;",
			wantRequire: []string{"table_exists('public', 'users')"},
			wantEnsure:  []string{"row_count('public', 'users') > 0"},
			description: "Guard expressions are kept verbatim",
		},
		{
			name:        "repeated_require",
			content:     "-- waypoint:require a()\n-- waypoint:require b()\nSELECT 1;",
			wantRequire: []string{"a()", "b()"},
			description: "Repeated directives accumulate in file order",
		},
		{
			name:         "safety_override",
			content:      "-- waypoint:safety-override\nDROP TABLE legacy;",
			wantOverride: true,
			description:  "Bare safety-override flips the flag",
		},
		{
			name:         "interleaved_plain_comments",
			content:      "-- drops the legacy table\n-- waypoint:safety-override\n-- reviewed by the team\nDROP TABLE legacy;",
			wantOverride: true,
			description:  "Plain comments may sit between directives",
		},
		{
			name:        "header_ends_at_first_statement",
			content:     "SELECT 1;\n-- waypoint:env prod",
			description: "Directives after the first non-comment line are ignored",
		},
		{
			name:        "crlf_header",
			content:     "-- waypoint:env prod\r\nSELECT 1;\r\n",
			wantEnv:     []string{"prod"},
			description: "CRLF line endings should not leak into values",
		},
		{
			name:        "unknown_key",
			content:     "-- waypoint:bogus value\nSELECT 1;",
			wantErr:     true,
			description: "Unknown directive keys are errors",
		},
		{
			name:        "env_typo_is_not_env",
			content:     "-- waypoint:environment prod\nSELECT 1;",
			wantErr:     true,
			description: "Key matching is exact so typos cannot silently disable anything",
		},
		{
			name:        "env_without_value",
			content:     "-- waypoint:env\nSELECT 1;",
			wantErr:     true,
			description: "env needs a list",
		},
		{
			name:        "depends_empty_item",
			content:     "-- waypoint:depends 1,,2\nSELECT 1;",
			wantErr:     true,
			description: "Empty list items are rejected",
		},
		{
			name:        "depends_bad_version",
			content:     "-- waypoint:depends 1.x\nSELECT 1;",
			wantErr:     true,
			description: "Depends items must be valid versions",
		},
		{
			name:        "require_without_expression",
			content:     "-- waypoint:require\nSELECT 1;",
			wantErr:     true,
			description: "require needs an expression",
		},
		{
			name:        "safety_override_with_value",
			content:     "-- waypoint:safety-override yes\nDROP TABLE legacy;",
			wantErr:     true,
			description: "safety-override takes no value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := migration.ParseDirectives(tt.content)

			if tt.wantErr {
				require.Error(t, err, tt.description)
				return
			}

			require.NoError(t, err, tt.description)
			require.Equal(t, tt.wantEnv, d.Env, tt.description)
			require.Equal(t, tt.wantRequire, d.Require, tt.description)
			require.Equal(t, tt.wantEnsure, d.Ensure, tt.description)
			require.Equal(t, tt.wantOverride, d.SafetyOverride, tt.description)

			require.Len(t, d.Depends, len(tt.wantDepends))
			for i, want := range tt.wantDepends {
				require.True(t, d.Depends[i].Equal(migration.MustVersion(want)),
					"Depends[%d] should be %s, got %s", i, want, d.Depends[i])
			}
		})
	}
}

func TestDirectivesAppliesTo(t *testing.T) {
	tests := []struct {
		name        string
		env         []string
		environment string
		want        bool
		description string
	}{
		{
			name:        "no_env_directive",
			env:         nil,
			environment: "prod",
			want:        true,
			description: "Migrations without env run everywhere",
		},
		{
			name:        "no_env_directive_no_environment",
			env:         nil,
			environment: "",
			want:        true,
			description: "No env directive and no configured environment still runs",
		},
		{
			name:        "matching_environment",
			env:         []string{"prod", "staging"},
			environment: "staging",
			want:        true,
			description: "Configured environment in the list runs",
		},
		{
			name:        "other_environment",
			env:         []string{"prod"},
			environment: "dev",
			want:        false,
			description: "Configured environment outside the list is skipped",
		},
		{
			name:        "env_directive_without_configured_environment",
			env:         []string{"prod"},
			environment: "",
			want:        false,
			description: "An env-scoped migration never runs when no environment is set",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := migration.Directives{Env: tt.env}
			require.Equal(t, tt.want, d.AppliesTo(tt.environment), tt.description)
		})
	}
}
