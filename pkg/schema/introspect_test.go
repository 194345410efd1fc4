package schema_test

import (
	"context"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/waypointdb/waypoint/pkg/schema"
	"github.com/waypointdb/waypoint/pkg/utils"
)

// fakeDB routes catalog queries to canned result sets keyed by a substring
// unique to each introspection query.
type fakeDB struct {
	results map[string][][]any
	failOn  string
	queried []string
}

func (db *fakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	db.queried = append(db.queried, sql)
	if db.failOn != "" && strings.Contains(sql, db.failOn) {
		return nil, errors.New("connection reset")
	}
	for key, rows := range db.results {
		if strings.Contains(sql, key) {
			return &fakeRows{data: rows, cur: -1}, nil
		}
	}
	return &fakeRows{cur: -1}, nil
}

type fakeRows struct {
	data [][]any
	cur  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	r.cur++
	return r.cur < len(r.data)
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.cur]
	for i, d := range dest {
		switch v := d.(type) {
		case *string:
			*v = row[i].(string)
		case **string:
			if row[i] == nil {
				*v = nil
			} else {
				s := row[i].(string)
				*v = &s
			}
		case **int:
			if row[i] == nil {
				*v = nil
			} else {
				n := row[i].(int)
				*v = &n
			}
		case *bool:
			*v = row[i].(bool)
		case *int64:
			*v = row[i].(int64)
		case *[]string:
			*v = row[i].([]string)
		default:
			return errors.Errorf("unexpected scan target %T", d)
		}
	}
	return nil
}

func TestIntrospectorSnapshot(t *testing.T) {
	t.Parallel()

	db := &fakeDB{results: map[string][][]any{
		"BASE TABLE": {
			{"users"},
			{"accounts"},
			{"waypoint_history"},
		},
		"column_default": {
			{"accounts", "id", "bigint", "int8", "NO", "nextval('accounts_id_seq'::regclass)", nil, nil, nil},
			{"accounts", "owner_id", "integer", "int4", "NO", nil, nil, nil, nil},
			{"users", "id", "integer", "int4", "NO", "nextval('users_id_seq'::regclass)", nil, nil, nil},
			{"users", "email", "character varying", "varchar", "NO", nil, 255, nil, nil},
			{"users", "status", "USER-DEFINED", "user_status", "NO", "'active'::user_status", nil, nil, nil},
			{"users", "balance", "numeric", "numeric", "YES", nil, nil, 12, 2},
			{"users", "tags", "ARRAY", "_text", "YES", nil, nil, nil, nil},
			{"users", "created_at", "timestamp with time zone", "timestamptz", "NO", "now()", nil, nil, nil},
			{"waypoint_history", "installed_rank", "integer", "int4", "NO", nil, nil, nil, nil},
		},
		"'PRIMARY KEY', 'UNIQUE'": {
			{"accounts", "accounts_pkey", "PRIMARY KEY", "id"},
			{"users", "users_pkey", "PRIMARY KEY", "id"},
			{"users", "users_email_status_key", "UNIQUE", "email"},
			{"users", "users_email_status_key", "UNIQUE", "status"},
		},
		"check_clause": {
			{"users", "users_balance_check", "(balance >= (0)::numeric)"},
		},
		"confkey": {
			{"accounts", "accounts_owner_id_fkey", "users", []string{"owner_id"}, []string{"id"}, "a", "c"},
		},
		"indexdef": {
			{"users", "users_created_at_idx", "CREATE INDEX users_created_at_idx ON public.users USING btree (created_at)", false},
			{"waypoint_history", "waypoint_history_s_idx", "CREATE INDEX waypoint_history_s_idx ON public.waypoint_history USING btree (success)", false},
		},
		"enumlabel": {
			{"user_status", "active"},
			{"user_status", "disabled"},
		},
		"sequencename": {
			{"invoice_seq", "bigint", int64(1000), int64(1)},
		},
	}}

	snap, err := schema.NewIntrospector(db).Snapshot(context.Background(), "public", "waypoint_history")
	require.NoError(t, err)

	require.Equal(t, schema.Format, snap.Format)
	require.Equal(t, "public", snap.Schema)
	require.False(t, snap.CapturedAt.IsZero())
	require.Len(t, db.queried, 8)

	// Canonical order, with the history table excluded everywhere.
	require.Len(t, snap.Tables, 2)
	require.Equal(t, "accounts", snap.Tables[0].Name)
	require.Equal(t, "users", snap.Tables[1].Name)
	require.Nil(t, snap.Table("waypoint_history"))

	accounts := snap.Table("accounts")
	require.Equal(t, "bigserial", accounts.Column("id").Type)
	require.Nil(t, accounts.Column("id").Default)
	require.Equal(t, "integer", accounts.Column("owner_id").Type)
	require.Equal(t, &schema.PrimaryKey{Name: "accounts_pkey", Columns: []string{"id"}}, accounts.PrimaryKey)
	require.Equal(t, []schema.ForeignKey{{
		Name:              "accounts_owner_id_fkey",
		Columns:           []string{"owner_id"},
		ReferencedTable:   "users",
		ReferencedColumns: []string{"id"},
		OnDelete:          "CASCADE",
	}}, accounts.ForeignKeys)

	users := snap.Table("users")
	require.Equal(t, "serial", users.Column("id").Type)
	require.Equal(t, "varchar(255)", users.Column("email").Type)
	require.False(t, users.Column("email").Nullable)
	require.Equal(t, "user_status", users.Column("status").Type)
	require.Equal(t, utils.Ptr("'active'"), users.Column("status").Default)
	require.Equal(t, "numeric(12,2)", users.Column("balance").Type)
	require.True(t, users.Column("balance").Nullable)
	require.Equal(t, "text[]", users.Column("tags").Type)
	require.Equal(t, utils.Ptr("now()"), users.Column("created_at").Default)

	require.Equal(t, []schema.Unique{
		{Name: "users_email_status_key", Columns: []string{"email", "status"}},
	}, users.Uniques)
	require.Equal(t, []schema.Check{
		{Name: "users_balance_check", Expression: "(balance >= (0)::numeric)"},
	}, users.Checks)
	require.Equal(t, []schema.Index{{
		Name:       "users_created_at_idx",
		Definition: "CREATE INDEX users_created_at_idx ON public.users USING btree (created_at)",
	}}, users.Indexes)

	require.Equal(t, []schema.Enum{
		{Name: "user_status", Values: []string{"active", "disabled"}},
	}, snap.Enums)
	require.Equal(t, []schema.Sequence{
		{Name: "invoice_seq", DataType: "bigint", Start: 1000, Increment: 1},
	}, snap.Sequences)
}

func TestIntrospectorSnapshotEmptySchema(t *testing.T) {
	t.Parallel()

	snap, err := schema.NewIntrospector(&fakeDB{}).Snapshot(context.Background(), "empty")
	require.NoError(t, err)
	require.True(t, snap.Empty())
	require.Equal(t, "empty", snap.Schema)
}

func TestIntrospectorSnapshotQueryError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		description string
		failOn      string
		want        string
	}{
		{
			name:        "tables",
			description: "A failing table listing aborts the snapshot",
			failOn:      "BASE TABLE",
			want:        "listing tables",
		},
		{
			name:        "columns",
			description: "A failing column listing aborts the snapshot",
			failOn:      "column_default",
			want:        "listing columns",
		},
		{
			name:        "enums",
			description: "A failing enum listing aborts the snapshot",
			failOn:      "enumlabel",
			want:        "listing enum types",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			db := &fakeDB{failOn: tt.failOn}
			_, err := schema.NewIntrospector(db).Snapshot(context.Background(), "public")
			require.Error(t, err, tt.description)
			require.Contains(t, err.Error(), tt.want, tt.description)
		})
	}
}
