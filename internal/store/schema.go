package store

import (
	"fmt"
	"strings"
)

// PostgresSchema returns DDL for the message table with an insert-only
// policy for the anon role, suitable for a Supabase project.
func PostgresSchema(table string) string {
	q := quotePostgresTable(table)
	policy := strings.ReplaceAll(lastPart(table), `"`, ``) + "_anon_insert"
	return fmt.Sprintf(`create table if not exists %[1]s (
  id         text primary key,
  typename   text,
  username   text,
  createtime text,
  content    text,
  url        text,
  created_at timestamptz not null default now()
);

alter table %[1]s enable row level security;

grant insert on %[1]s to anon;

drop policy if exists %[2]q on %[1]s;
create policy %[2]q on %[1]s for insert to anon with check (true);
`, q, policy)
}

// quotePostgresTable quotes "schema.table" or "table" as identifiers.
func quotePostgresTable(table string) string {
	parts := strings.Split(table, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

func lastPart(table string) string {
	if i := strings.LastIndex(table, "."); i >= 0 {
		return table[i+1:]
	}
	return table
}
