package schemadiff_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/waypointdb/waypoint/pkg/schema"
	"github.com/waypointdb/waypoint/pkg/schemadiff"
	"github.com/waypointdb/waypoint/pkg/utils"
)

func TestCompareIdenticalSnapshots(t *testing.T) {
	t.Parallel()

	snap := func() *schema.Snapshot {
		return &schema.Snapshot{
			Schema: "public",
			Tables: []schema.Table{{
				Name:       "users",
				Columns:    []schema.Column{{Name: "id", Type: "serial"}},
				PrimaryKey: &schema.PrimaryKey{Name: "users_pkey", Columns: []string{"id"}},
			}},
			Enums: []schema.Enum{{Name: "user_status", Values: []string{"active"}}},
		}
	}

	set := schemadiff.Compare(snap(), snap())
	require.True(t, set.Empty())
	require.Empty(t, set.ForwardSQL())
	require.Empty(t, set.ReverseSQL())
	require.Empty(t, set.Warnings())
}

func TestCompareBuildsSchemaInDependencyOrder(t *testing.T) {
	t.Parallel()

	from := &schema.Snapshot{Schema: "public"}
	to := &schema.Snapshot{
		Schema: "public",
		Tables: []schema.Table{
			{
				Name: "users",
				Columns: []schema.Column{
					{Name: "id", Type: "serial"},
					{Name: "email", Type: "varchar(255)"},
					{Name: "status", Type: "user_status", Default: utils.Ptr("'active'")},
					{Name: "bio", Type: "text", Nullable: true},
					{Name: "org_id", Type: "bigint"},
				},
				PrimaryKey: &schema.PrimaryKey{Name: "users_pkey", Columns: []string{"id"}},
				Uniques:    []schema.Unique{{Name: "users_email_key", Columns: []string{"email"}}},
				Checks:     []schema.Check{{Name: "users_email_check", Expression: "length(email) > 3"}},
				ForeignKeys: []schema.ForeignKey{{
					Name:              "users_org_id_fkey",
					Columns:           []string{"org_id"},
					ReferencedTable:   "orgs",
					ReferencedColumns: []string{"id"},
					OnDelete:          "CASCADE",
				}},
				Indexes: []schema.Index{{
					Name:       "users_bio_idx",
					Definition: "CREATE INDEX users_bio_idx ON public.users USING btree (bio)",
				}},
			},
			{
				Name: "orgs",
				Columns: []schema.Column{
					{Name: "id", Type: "bigserial"},
					{Name: "name", Type: "text"},
				},
				PrimaryKey: &schema.PrimaryKey{Name: "orgs_pkey", Columns: []string{"id"}},
			},
		},
		Enums:     []schema.Enum{{Name: "user_status", Values: []string{"active", "disabled"}}},
		Sequences: []schema.Sequence{{Name: "invoice_seq", DataType: "bigint", Start: 1000, Increment: 1}},
	}

	set := schemadiff.Compare(from, to)

	require.Equal(t, `CREATE TYPE "public"."user_status" AS ENUM ('active', 'disabled');
CREATE SEQUENCE "public"."invoice_seq" AS bigint START WITH 1000 INCREMENT BY 1;
CREATE TABLE "public"."orgs" (
  "id" bigserial,
  "name" text NOT NULL,
  CONSTRAINT "orgs_pkey" PRIMARY KEY ("id")
);
CREATE TABLE "public"."users" (
  "id" serial,
  "email" varchar(255) NOT NULL,
  "status" user_status NOT NULL DEFAULT 'active',
  "bio" text,
  "org_id" bigint NOT NULL,
  CONSTRAINT "users_pkey" PRIMARY KEY ("id")
);
ALTER TABLE "public"."users" ADD CONSTRAINT "users_email_key" UNIQUE ("email");
ALTER TABLE "public"."users" ADD CONSTRAINT "users_email_check" CHECK (length(email) > 3);
ALTER TABLE "public"."users" ADD CONSTRAINT "users_org_id_fkey" FOREIGN KEY ("org_id") REFERENCES "public"."orgs" ("id") ON DELETE CASCADE;
CREATE INDEX users_bio_idx ON public.users USING btree (bio);
`, set.ForwardSQL())

	require.Equal(t, `DROP INDEX "public"."users_bio_idx";
ALTER TABLE "public"."users" DROP CONSTRAINT "users_org_id_fkey";
ALTER TABLE "public"."users" DROP CONSTRAINT "users_email_check";
ALTER TABLE "public"."users" DROP CONSTRAINT "users_email_key";
-- waypoint:data-loss: dropping table 'users' discards rows written since it was created
DROP TABLE "public"."users";
-- waypoint:data-loss: dropping table 'orgs' discards rows written since it was created
DROP TABLE "public"."orgs";
DROP SEQUENCE "public"."invoice_seq";
DROP TYPE "public"."user_status";
`, set.ReverseSQL())
}

func TestCompareDropTableRecreatesOnReverse(t *testing.T) {
	t.Parallel()

	from := &schema.Snapshot{
		Schema: "public",
		Tables: []schema.Table{{
			Name: "audit_log",
			Columns: []schema.Column{
				{Name: "id", Type: "bigserial"},
				{Name: "entry", Type: "jsonb"},
			},
			PrimaryKey: &schema.PrimaryKey{Name: "audit_log_pkey", Columns: []string{"id"}},
			Indexes: []schema.Index{{
				Name:       "audit_log_entry_idx",
				Definition: "CREATE INDEX audit_log_entry_idx ON public.audit_log USING gin (entry)",
			}},
		}},
	}
	to := &schema.Snapshot{Schema: "public"}

	set := schemadiff.Compare(from, to)

	require.Equal(t, `DROP TABLE "public"."audit_log";
`, set.ForwardSQL())

	require.Equal(t, `-- waypoint:data-loss: recreating table 'audit_log' restores its structure but not its rows
CREATE TABLE "public"."audit_log" (
  "id" bigserial,
  "entry" jsonb NOT NULL,
  CONSTRAINT "audit_log_pkey" PRIMARY KEY ("id")
);
CREATE INDEX audit_log_entry_idx ON public.audit_log USING gin (entry);
`, set.ReverseSQL())

	require.Equal(t, []string{
		"recreating table 'audit_log' restores its structure but not its rows",
	}, set.Warnings())
}

func TestCompareDetectsTableRename(t *testing.T) {
	t.Parallel()

	table := func(name string) schema.Table {
		return schema.Table{
			Name: name,
			Columns: []schema.Column{
				{Name: "id", Type: "bigserial"},
				{Name: "email", Type: "text"},
			},
			PrimaryKey: &schema.PrimaryKey{Name: "accounts_pkey", Columns: []string{"id"}},
			Uniques:    []schema.Unique{{Name: "accounts_email_key", Columns: []string{"email"}}},
		}
	}

	t.Run("same shape under a new name becomes a rename", func(t *testing.T) {
		from := &schema.Snapshot{Schema: "public", Tables: []schema.Table{table("accounts")}}
		to := &schema.Snapshot{Schema: "public", Tables: []schema.Table{table("customers")}}

		set := schemadiff.Compare(from, to)

		require.Len(t, set.Diffs, 1)
		require.Equal(t, schemadiff.DiffRename, set.Diffs[0].Type)
		require.Equal(t, "accounts", set.Diffs[0].Object)

		require.Equal(t, `ALTER TABLE "public"."accounts" RENAME TO "customers";
`, set.ForwardSQL())
		require.Equal(t, `ALTER TABLE "public"."customers" RENAME TO "accounts";
`, set.ReverseSQL())
		require.Empty(t, set.Warnings())
	})

	t.Run("shape changes prevent rename pairing", func(t *testing.T) {
		from := &schema.Snapshot{Schema: "public", Tables: []schema.Table{table("accounts")}}

		changed := table("customers")
		changed.Columns = append(changed.Columns, schema.Column{Name: "verified_at", Type: "timestamptz", Nullable: true})
		to := &schema.Snapshot{Schema: "public", Tables: []schema.Table{changed}}

		set := schemadiff.Compare(from, to)

		for _, d := range set.Diffs {
			require.NotEqual(t, schemadiff.DiffRename, d.Type)
		}
		require.Contains(t, set.ForwardSQL(), `CREATE TABLE "public"."customers"`)
		require.Contains(t, set.ForwardSQL(), `DROP TABLE "public"."accounts";`)
	})

	t.Run("old name still present prevents rename pairing", func(t *testing.T) {
		from := &schema.Snapshot{Schema: "public", Tables: []schema.Table{table("accounts")}}
		to := &schema.Snapshot{Schema: "public", Tables: []schema.Table{table("accounts"), table("customers")}}

		set := schemadiff.Compare(from, to)

		for _, d := range set.Diffs {
			require.NotEqual(t, schemadiff.DiffRename, d.Type)
		}
	})
}

func TestCompareColumnChanges(t *testing.T) {
	t.Parallel()

	from := &schema.Snapshot{
		Schema: "public",
		Tables: []schema.Table{{
			Name: "users",
			Columns: []schema.Column{
				{Name: "id", Type: "serial"},
				{Name: "email", Type: "varchar(100)"},
				{Name: "legacy", Type: "text", Nullable: true},
				{Name: "score", Type: "integer", Nullable: true, Default: utils.Ptr("0")},
			},
		}},
	}
	to := &schema.Snapshot{
		Schema: "public",
		Tables: []schema.Table{{
			Name: "users",
			Columns: []schema.Column{
				{Name: "id", Type: "serial"},
				{Name: "email", Type: "varchar(255)"},
				{Name: "bio", Type: "text", Nullable: true},
				{Name: "score", Type: "integer", Default: utils.Ptr("100")},
			},
		}},
	}

	set := schemadiff.Compare(from, to)

	require.Equal(t, `ALTER TABLE "public"."users" ADD COLUMN "bio" text;
ALTER TABLE "public"."users" ALTER COLUMN "email" TYPE varchar(255);
ALTER TABLE "public"."users" ALTER COLUMN "score" SET NOT NULL;
ALTER TABLE "public"."users" ALTER COLUMN "score" SET DEFAULT 100;
ALTER TABLE "public"."users" DROP COLUMN "legacy";
`, set.ForwardSQL())

	require.Equal(t, `-- waypoint:data-loss: recreating column 'users.legacy' restores its structure but not its data
ALTER TABLE "public"."users" ADD COLUMN "legacy" text;
ALTER TABLE "public"."users" ALTER COLUMN "score" DROP NOT NULL;
ALTER TABLE "public"."users" ALTER COLUMN "score" SET DEFAULT 0;
-- waypoint:data-loss: values of 'users.email' coerced by the type change are not restored
ALTER TABLE "public"."users" ALTER COLUMN "email" TYPE varchar(100);
-- waypoint:data-loss: dropping column 'users.bio' discards its contents
ALTER TABLE "public"."users" DROP COLUMN "bio";
`, set.ReverseSQL())
}

func TestCompareConstraintChanges(t *testing.T) {
	t.Parallel()

	from := &schema.Snapshot{
		Schema: "public",
		Tables: []schema.Table{{
			Name:       "orders",
			Columns:    []schema.Column{{Name: "id", Type: "bigint"}, {Name: "ref", Type: "text"}},
			PrimaryKey: &schema.PrimaryKey{Name: "orders_pkey", Columns: []string{"id"}},
			Checks:     []schema.Check{{Name: "orders_ref_check", Expression: "length(ref) > 0"}},
		}},
	}
	to := &schema.Snapshot{
		Schema: "public",
		Tables: []schema.Table{{
			Name:       "orders",
			Columns:    []schema.Column{{Name: "id", Type: "bigint"}, {Name: "ref", Type: "text"}},
			PrimaryKey: &schema.PrimaryKey{Name: "orders_pkey", Columns: []string{"id", "ref"}},
			Uniques:    []schema.Unique{{Name: "orders_ref_key", Columns: []string{"ref"}}},
		}},
	}

	set := schemadiff.Compare(from, to)

	require.Equal(t, `ALTER TABLE "public"."orders" DROP CONSTRAINT "orders_pkey";
ALTER TABLE "public"."orders" ADD CONSTRAINT "orders_pkey" PRIMARY KEY ("id", "ref");
ALTER TABLE "public"."orders" ADD CONSTRAINT "orders_ref_key" UNIQUE ("ref");
ALTER TABLE "public"."orders" DROP CONSTRAINT "orders_ref_check";
`, set.ForwardSQL())

	require.Equal(t, `ALTER TABLE "public"."orders" ADD CONSTRAINT "orders_ref_check" CHECK (length(ref) > 0);
ALTER TABLE "public"."orders" DROP CONSTRAINT "orders_ref_key";
ALTER TABLE "public"."orders" DROP CONSTRAINT "orders_pkey";
ALTER TABLE "public"."orders" ADD CONSTRAINT "orders_pkey" PRIMARY KEY ("id");
`, set.ReverseSQL())
}

func TestCompareIndexRedefinition(t *testing.T) {
	t.Parallel()

	from := &schema.Snapshot{
		Schema: "public",
		Tables: []schema.Table{{
			Name:    "users",
			Columns: []schema.Column{{Name: "email", Type: "text"}},
			Indexes: []schema.Index{{
				Name:       "users_email_idx",
				Definition: "CREATE INDEX users_email_idx ON public.users USING btree (email)",
			}},
		}},
	}
	to := &schema.Snapshot{
		Schema: "public",
		Tables: []schema.Table{{
			Name:    "users",
			Columns: []schema.Column{{Name: "email", Type: "text"}},
			Indexes: []schema.Index{{
				Name:       "users_email_idx",
				Definition: "CREATE INDEX users_email_idx ON public.users USING hash (email)",
			}},
		}},
	}

	set := schemadiff.Compare(from, to)

	require.Equal(t, `DROP INDEX "public"."users_email_idx";
CREATE INDEX users_email_idx ON public.users USING hash (email);
`, set.ForwardSQL())

	require.Equal(t, `DROP INDEX "public"."users_email_idx";
CREATE INDEX users_email_idx ON public.users USING btree (email);
`, set.ReverseSQL())
}

func TestCompareEnumChanges(t *testing.T) {
	t.Parallel()

	t.Run("appended values alter in place", func(t *testing.T) {
		t.Parallel()

		from := &schema.Snapshot{
			Schema: "public",
			Enums:  []schema.Enum{{Name: "order_status", Values: []string{"pending"}}},
		}
		to := &schema.Snapshot{
			Schema: "public",
			Enums:  []schema.Enum{{Name: "order_status", Values: []string{"pending", "shipped", "it's done"}}},
		}

		set := schemadiff.Compare(from, to)

		require.Equal(t, `ALTER TYPE "public"."order_status" ADD VALUE 'shipped';
ALTER TYPE "public"."order_status" ADD VALUE 'it''s done';
`, set.ForwardSQL())

		require.Equal(t, `-- waypoint:manual: PostgreSQL cannot remove values from enum type 'order_status'; rebuild the type to undo
`, set.ReverseSQL())
	})

	t.Run("removed values need a rebuild", func(t *testing.T) {
		t.Parallel()

		from := &schema.Snapshot{
			Schema: "public",
			Enums:  []schema.Enum{{Name: "order_status", Values: []string{"pending", "shipped"}}},
		}
		to := &schema.Snapshot{
			Schema: "public",
			Enums:  []schema.Enum{{Name: "order_status", Values: []string{"shipped"}}},
		}

		set := schemadiff.Compare(from, to)

		require.Equal(t, `-- waypoint:manual: enum type 'order_status' removes or reorders values; rebuild the type manually
`, set.ForwardSQL())
		require.Equal(t, `-- waypoint:manual: enum type 'order_status' removes or reorders values; rebuild the type manually
`, set.ReverseSQL())
		require.Len(t, set.Warnings(), 2)
	})
}

func TestCompareSequenceChanges(t *testing.T) {
	t.Parallel()

	from := &schema.Snapshot{
		Schema:    "public",
		Sequences: []schema.Sequence{{Name: "invoice_seq", DataType: "bigint", Start: 1, Increment: 1}},
	}
	to := &schema.Snapshot{
		Schema:    "public",
		Sequences: []schema.Sequence{{Name: "invoice_seq", DataType: "bigint", Start: 1, Increment: 10}},
	}

	set := schemadiff.Compare(from, to)

	require.Equal(t, `ALTER SEQUENCE "public"."invoice_seq" INCREMENT BY 10;
`, set.ForwardSQL())
	require.Equal(t, `ALTER SEQUENCE "public"."invoice_seq" INCREMENT BY 1;
`, set.ReverseSQL())
}
