// Package postgres implements the store using pgx/v5 with raw SQL.
// Workflow state is stored as a versioned JSONB document with the columns
// the queries filter on extracted alongside it. Schema changes ship as
// embedded SQL migrations.
package postgres
