// Package utils provides common utility functions used throughout the Waypoint codebase.
//
// This package contains shared utilities that are used by multiple packages to avoid
// code duplication and ensure consistent behavior across the application.
//
// # Identifier Utilities (identifier.go)
//
// The identifier utilities provide consistent handling of PostgreSQL identifiers:
// double-quote quoting with embedded quote doubling, schema qualification, and
// validation of the identifiers Waypoint receives from configuration.
//
//	quoted := utils.QuoteIdentifier("users")
//	// Result: "users"
//
//	qualified := utils.QualifiedName("public", "waypoint_schema_history")
//	// Result: "public"."waypoint_schema_history"
//
//	if err := utils.ValidateIdentifier(cfg.Table, "history table name"); err != nil {
//		// reject before any SQL is built from it
//	}
//
// Identifier validation is deliberately strict (alphanumerics and underscores
// only) because these values name objects Waypoint itself creates; quoting is
// applied everywhere regardless, so validation is a second line of defense.
package utils
