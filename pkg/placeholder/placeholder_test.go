package placeholder_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/waypointdb/waypoint/pkg/placeholder"
)

func TestExpand(t *testing.T) {
	tests := []struct {
		name        string
		values      map[string]string
		src         string
		want        string
		wantMissing []string
		description string
	}{
		{
			name:        "basic_substitution",
			values:      map[string]string{"schema": "public", "table": "users"},
			src:         "CREATE TABLE ${schema}.${table} (id SERIAL);",
			want:        "CREATE TABLE public.users (id SERIAL);",
			description: "Plain references expand",
		},
		{
			name:        "case_insensitive_lookup",
			values:      map[string]string{"Schema": "public"},
			src:         "SELECT * FROM ${SCHEMA}.users;",
			want:        "SELECT * FROM public.users;",
			description: "Key lookup ignores case in both directions",
		},
		{
			name:        "no_placeholders",
			values:      map[string]string{"schema": "public"},
			src:         "SELECT 1;",
			want:        "SELECT 1;",
			description: "Text without references passes through",
		},
		{
			name:        "missing_key_stays_literal",
			values:      map[string]string{},
			src:         "SELECT * FROM ${missing}.users;",
			want:        "SELECT * FROM ${missing}.users;",
			wantMissing: []string{"missing"},
			description: "Unresolved references are reported and left in place",
		},
		{
			name:        "missing_reported_once",
			values:      map[string]string{},
			src:         "${a} ${b} ${a}",
			want:        "${a} ${b} ${a}",
			wantMissing: []string{"a", "b"},
			description: "Distinct keys in order of first appearance",
		},
		{
			name:        "suppressed_in_string",
			values:      map[string]string{"x": "BOOM"},
			src:         "INSERT INTO t VALUES ('${x}');",
			want:        "INSERT INTO t VALUES ('${x}');",
			description: "Single-quoted strings are never expanded",
		},
		{
			name:        "suppressed_in_escape_string",
			values:      map[string]string{"x": "BOOM"},
			src:         `SELECT E'\'${x}';`,
			want:        `SELECT E'\'${x}';`,
			description: "Escape strings honor backslash escapes while suppressing",
		},
		{
			name:        "suppressed_in_dollar_quote",
			values:      map[string]string{"x": "BOOM"},
			src:         "DO $$ SELECT '${x}'; $$;",
			want:        "DO $$ SELECT '${x}'; $$;",
			description: "Dollar-quoted bodies are opaque",
		},
		{
			name:        "suppressed_in_tagged_dollar_quote",
			values:      map[string]string{"x": "BOOM"},
			src:         "DO $fn$ ${x} $fn$;",
			want:        "DO $fn$ ${x} $fn$;",
			description: "Arbitrary tags suppress too",
		},
		{
			name:        "suppressed_in_line_comment",
			values:      map[string]string{"x": "BOOM"},
			src:         "SELECT 1; -- uses ${x}\nSELECT ${x};",
			want:        "SELECT 1; -- uses ${x}\nSELECT BOOM;",
			description: "Line comments suppress to end of line only",
		},
		{
			name:        "suppressed_in_block_comment",
			values:      map[string]string{"x": "BOOM"},
			src:         "/* ${x} /* nested ${x} */ still */ SELECT ${x};",
			want:        "/* ${x} /* nested ${x} */ still */ SELECT BOOM;",
			description: "Nested block comments suppress to the outer closer",
		},
		{
			name:        "expanded_after_string_closes",
			values:      map[string]string{"x": "ok"},
			src:         "SELECT 'lit' || ${x};",
			want:        "SELECT 'lit' || ok;",
			description: "Suppression ends with its region",
		},
		{
			name:        "doubled_quote_keeps_string_open",
			values:      map[string]string{"x": "BOOM"},
			src:         "SELECT 'it''s ${x}';",
			want:        "SELECT 'it''s ${x}';",
			description: "'' does not close the string",
		},
		{
			name:        "positional_parameter_untouched",
			values:      map[string]string{"1": "BOOM"},
			src:         "SELECT $1;",
			want:        "SELECT $1;",
			description: "$1 is not a placeholder",
		},
		{
			name:        "unclosed_reference_stays_literal",
			values:      map[string]string{"x": "ok"},
			src:         "SELECT ${x",
			want:        "SELECT ${x",
			description: "No closing brace means no reference",
		},
		{
			name:        "empty_key_stays_literal",
			values:      map[string]string{},
			src:         "SELECT ${};",
			want:        "SELECT ${};",
			description: "Empty keys are not references",
		},
		{
			name:        "value_containing_placeholder_syntax",
			values:      map[string]string{"a": "${b}", "b": "x"},
			src:         "SELECT ${a};",
			want:        "SELECT ${b};",
			description: "Expansion is single-pass; values are not re-expanded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp := placeholder.New(tt.values)
			got, missing := exp.Expand(tt.src)

			require.Equal(t, tt.want, got, tt.description)
			if tt.wantMissing == nil {
				require.Empty(t, missing, tt.description)
			} else {
				require.Equal(t, tt.wantMissing, missing, tt.description)
			}
		})
	}
}

func TestBuiltins(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	values := placeholder.Builtins("public", "admin", "appdb", "V1__init.sql", now)

	require.Equal(t, "public", values["schema"])
	require.Equal(t, "admin", values["user"])
	require.Equal(t, "appdb", values["database"])
	require.Equal(t, "V1__init.sql", values["filename"])

	require.Equal(t, "public", values["waypoint:schema"])
	require.Equal(t, "admin", values["waypoint:user"])
	require.Equal(t, "appdb", values["waypoint:database"])
	require.Equal(t, "V1__init.sql", values["waypoint:filename"])
	require.Equal(t, "2024-03-15 10:30:00", values["waypoint:timestamp"])
}

func TestBuiltins_PrefixedReferenceExpands(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	exp := placeholder.New(placeholder.Builtins("app", "admin", "appdb", "V1__init.sql", now))

	got, missing := exp.Expand("COMMENT ON SCHEMA app IS 'migrated by ${waypoint:user} at ${waypoint:timestamp}';")
	require.Empty(t, missing)
	// The comment body is quoted, so nothing expands there.
	require.Contains(t, got, "${waypoint:user}")

	got, missing = exp.Expand("CREATE SCHEMA ${waypoint:schema}_audit;")
	require.Empty(t, missing)
	require.Equal(t, "CREATE SCHEMA app_audit;", got)
}

func TestAvailable(t *testing.T) {
	exp := placeholder.New(map[string]string{"zeta": "1", "alpha": "2"})
	require.Equal(t, []string{"alpha", "zeta"}, exp.Available())
}
