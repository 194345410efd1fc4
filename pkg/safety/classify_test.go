package safety_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/waypointdb/waypoint/pkg/safety"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		description string
		sql         string
		shape       safety.Shape
		table       string
	}{
		{
			name:        "create_table",
			description: "CREATE TABLE is recognized with its target",
			sql:         "CREATE TABLE users (id serial PRIMARY KEY)",
			shape:       safety.ShapeCreateTable,
			table:       "users",
		},
		{
			name:        "create_table_if_not_exists_qualified",
			description: "IF NOT EXISTS and schema qualification are skipped",
			sql:         "create table if not exists public.users (id serial)",
			shape:       safety.ShapeCreateTable,
			table:       "users",
		},
		{
			name:        "create_unlogged_table_quoted",
			description: "Modifier keywords are skipped and quoted names keep their case",
			sql:         `CREATE UNLOGGED TABLE "Audit Log" (id int)`,
			shape:       safety.ShapeCreateTable,
			table:       "Audit Log",
		},
		{
			name:        "create_index",
			description: "CREATE INDEX reports the indexed table, not the index",
			sql:         "CREATE INDEX users_email_idx ON users (email)",
			shape:       safety.ShapeCreateIndex,
			table:       "users",
		},
		{
			name:        "create_unique_index_concurrently",
			description: "CONCURRENTLY is its own shape",
			sql:         "CREATE UNIQUE INDEX CONCURRENTLY users_email_idx ON public.users (email)",
			shape:       safety.ShapeCreateIndexConcurrently,
			table:       "users",
		},
		{
			name:        "create_index_unnamed",
			description: "Unnamed indexes still resolve the table after ON",
			sql:         "CREATE INDEX ON users (email)",
			shape:       safety.ShapeCreateIndex,
			table:       "users",
		},
		{
			name:        "add_column",
			description: "A plain nullable column add",
			sql:         "ALTER TABLE users ADD COLUMN bio text",
			shape:       safety.ShapeAddColumn,
			table:       "users",
		},
		{
			name:        "add_column_without_keyword",
			description: "The COLUMN keyword is optional",
			sql:         "ALTER TABLE users ADD bio text",
			shape:       safety.ShapeAddColumn,
			table:       "users",
		},
		{
			name:        "add_column_not_null",
			description: "NOT NULL without a default is its own shape",
			sql:         "ALTER TABLE users ADD COLUMN age int NOT NULL",
			shape:       safety.ShapeAddColumnNotNull,
			table:       "users",
		},
		{
			name:        "add_column_not_null_default",
			description: "NOT NULL with DEFAULT is its own shape",
			sql:         "ALTER TABLE users ADD COLUMN age int NOT NULL DEFAULT 0",
			shape:       safety.ShapeAddColumnNotNullDefault,
			table:       "users",
		},
		{
			name:        "add_column_set_default_action",
			description: "ON DELETE SET DEFAULT does not count as a column default",
			sql:         "ALTER TABLE users ADD COLUMN org_id int NOT NULL REFERENCES orgs (id) ON DELETE SET DEFAULT",
			shape:       safety.ShapeAddColumnNotNull,
			table:       "users",
		},
		{
			name:        "add_constraint",
			description: "ADD CONSTRAINT is its own shape, not a column add",
			sql:         "ALTER TABLE users ADD CONSTRAINT users_email_key UNIQUE (email)",
			shape:       safety.ShapeAddConstraint,
			table:       "users",
		},
		{
			name:        "add_foreign_key_unnamed",
			description: "Unnamed constraint clauses classify the same as named ones",
			sql:         "ALTER TABLE orders ADD FOREIGN KEY (user_id) REFERENCES users (id)",
			shape:       safety.ShapeAddConstraint,
			table:       "orders",
		},
		{
			name:        "add_constraint_not_valid",
			description: "NOT VALID skips the validating scan and stays unclassified",
			sql:         "ALTER TABLE orders ADD CONSTRAINT orders_user_fk FOREIGN KEY (user_id) REFERENCES users (id) NOT VALID",
			shape:       safety.ShapeOther,
			table:       "orders",
		},
		{
			name:        "alter_column_type",
			description: "ALTER COLUMN TYPE is recognized through ONLY and qualification",
			sql:         "ALTER TABLE ONLY public.users ALTER COLUMN email TYPE varchar(500)",
			shape:       safety.ShapeAlterColumnType,
			table:       "users",
		},
		{
			name:        "alter_column_set_data_type",
			description: "The SET DATA TYPE spelling matches too",
			sql:         "ALTER TABLE users ALTER email SET DATA TYPE text",
			shape:       safety.ShapeAlterColumnType,
			table:       "users",
		},
		{
			name:        "alter_column_set_not_null",
			description: "Other ALTER COLUMN forms stay unclassified",
			sql:         "ALTER TABLE users ALTER COLUMN email SET NOT NULL",
			shape:       safety.ShapeOther,
			table:       "users",
		},
		{
			name:        "drop_column",
			description: "DROP COLUMN is recognized",
			sql:         "ALTER TABLE users DROP COLUMN legacy",
			shape:       safety.ShapeDropColumn,
			table:       "users",
		},
		{
			name:        "drop_column_without_keyword",
			description: "The COLUMN keyword is optional for drops",
			sql:         "ALTER TABLE users DROP legacy",
			shape:       safety.ShapeDropColumn,
			table:       "users",
		},
		{
			name:        "drop_constraint",
			description: "DROP CONSTRAINT is not a column drop",
			sql:         "ALTER TABLE users DROP CONSTRAINT users_pkey",
			shape:       safety.ShapeOther,
			table:       "users",
		},
		{
			name:        "drop_table",
			description: "DROP TABLE is recognized",
			sql:         "DROP TABLE users",
			shape:       safety.ShapeDropTable,
			table:       "users",
		},
		{
			name:        "drop_table_if_exists",
			description: "IF EXISTS and qualification are skipped",
			sql:         "DROP TABLE IF EXISTS public.users CASCADE",
			shape:       safety.ShapeDropTable,
			table:       "users",
		},
		{
			name:        "truncate",
			description: "TRUNCATE is recognized",
			sql:         "TRUNCATE users",
			shape:       safety.ShapeTruncate,
			table:       "users",
		},
		{
			name:        "truncate_table_only",
			description: "TABLE and ONLY keywords are skipped",
			sql:         "TRUNCATE TABLE ONLY public.events",
			shape:       safety.ShapeTruncate,
			table:       "events",
		},
		{
			name:        "update_without_where",
			description: "A full-table UPDATE is its own shape",
			sql:         "UPDATE users SET active = false",
			shape:       safety.ShapeUpdateWithoutWhere,
			table:       "users",
		},
		{
			name:        "update_with_where",
			description: "A qualified UPDATE stays unclassified",
			sql:         "UPDATE users SET active = false WHERE id = 7",
			shape:       safety.ShapeOther,
			table:       "users",
		},
		{
			name:        "update_where_only_in_subquery",
			description: "A WHERE inside a subquery does not qualify the outer statement",
			sql:         "UPDATE users SET plan = (SELECT id FROM plans WHERE name = 'free')",
			shape:       safety.ShapeUpdateWithoutWhere,
			table:       "users",
		},
		{
			name:        "delete_without_where",
			description: "A full-table DELETE is its own shape",
			sql:         "DELETE FROM orders",
			shape:       safety.ShapeDeleteWithoutWhere,
			table:       "orders",
		},
		{
			name:        "delete_with_where",
			description: "A qualified DELETE stays unclassified",
			sql:         "DELETE FROM orders WHERE created_at < now() - interval '90 days'",
			shape:       safety.ShapeOther,
			table:       "orders",
		},
		{
			name:        "vacuum",
			description: "Plain VACUUM is recognized with its target",
			sql:         "VACUUM ANALYZE public.orders",
			shape:       safety.ShapeVacuum,
			table:       "orders",
		},
		{
			name:        "vacuum_full",
			description: "The FULL keyword is its own shape",
			sql:         "VACUUM FULL orders",
			shape:       safety.ShapeVacuumFull,
			table:       "orders",
		},
		{
			name:        "vacuum_full_option_list",
			description: "FULL inside the parenthesized option list matches too",
			sql:         "VACUUM (FULL, VERBOSE) orders",
			shape:       safety.ShapeVacuumFull,
			table:       "orders",
		},
		{
			name:        "leading_comments",
			description: "Comments before the statement are skipped",
			sql:         "-- drop it\n/* really /* drop */ it */ DROP TABLE users",
			shape:       safety.ShapeDropTable,
			table:       "users",
		},
		{
			name:        "keyword_inside_string",
			description: "Statement text inside string literals is not matched",
			sql:         "SELECT 'DROP TABLE users'",
			shape:       safety.ShapeOther,
		},
		{
			name:        "keyword_inside_dollar_quote",
			description: "Dollar-quoted bodies are opaque",
			sql:         "DO $$ BEGIN EXECUTE 'TRUNCATE users'; END $$",
			shape:       safety.ShapeOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := safety.Classify(tt.sql)
			require.Equal(t, tt.shape, got.Shape, tt.description)
			require.Equal(t, tt.table, got.Table, tt.description)
		})
	}
}

func TestNonTransactional(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		description string
		sql         string
		form        string
		ok          bool
	}{
		{
			name:        "create_index_concurrently",
			description: "Concurrent index builds cannot run in a transaction",
			sql:         "CREATE INDEX CONCURRENTLY users_email_idx ON users (email)",
			form:        "CREATE INDEX CONCURRENTLY",
			ok:          true,
		},
		{
			name:        "create_unique_index_concurrently",
			description: "UNIQUE does not hide the concurrent build",
			sql:         "create unique index concurrently uq ON users (email)",
			form:        "CREATE INDEX CONCURRENTLY",
			ok:          true,
		},
		{
			name:        "drop_index_concurrently",
			description: "Concurrent index drops cannot run in a transaction",
			sql:         "DROP INDEX CONCURRENTLY users_email_idx",
			form:        "DROP INDEX CONCURRENTLY",
			ok:          true,
		},
		{
			name:        "vacuum",
			description: "VACUUM cannot run in a transaction",
			sql:         "VACUUM FULL users",
			form:        "VACUUM",
			ok:          true,
		},
		{
			name:        "alter_system",
			description: "ALTER SYSTEM cannot run in a transaction",
			sql:         "ALTER SYSTEM SET work_mem = '64MB'",
			form:        "ALTER SYSTEM",
			ok:          true,
		},
		{
			name:        "reindex_concurrently",
			description: "Concurrent reindexes cannot run in a transaction",
			sql:         "REINDEX INDEX CONCURRENTLY users_email_idx",
			form:        "REINDEX CONCURRENTLY",
			ok:          true,
		},
		{
			name:        "create_database",
			description: "CREATE DATABASE cannot run in a transaction",
			sql:         "CREATE DATABASE analytics",
			form:        "CREATE DATABASE",
			ok:          true,
		},
		{
			name:        "drop_tablespace",
			description: "DROP TABLESPACE cannot run in a transaction",
			sql:         "DROP TABLESPACE old_disk",
			form:        "DROP TABLESPACE",
			ok:          true,
		},
		{
			name:        "plain_index",
			description: "A plain CREATE INDEX is transactional",
			sql:         "CREATE INDEX users_email_idx ON users (email)",
		},
		{
			name:        "plain_ddl",
			description: "Ordinary DDL is transactional",
			sql:         "CREATE TABLE t (id int)",
		},
		{
			name:        "dml",
			description: "DML is transactional",
			sql:         "DELETE FROM users",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			form, ok := safety.NonTransactional(tt.sql)
			require.Equal(t, tt.ok, ok, tt.description)
			require.Equal(t, tt.form, form, tt.description)
		})
	}
}
