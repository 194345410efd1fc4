// Package project scaffolds new waypoint projects. It provides idempotent
// initialization that creates the standard directory structure and starter
// configuration while preserving any existing content.
//
// # Project Structure
//
// An initialized project follows this layout:
//
//	project-root/
//	├── waypoint.toml           # Configuration (written mode 0600)
//	└── db/
//	    └── migrations/         # V*, U* and R* migration files
//
// The starter waypoint.toml documents every setting with its default
// commented out, so a freshly initialized project runs with nothing but a
// database URL.
//
// # Usage Example
//
//	proj := project.New("services/orders")
//	if err := proj.Initialize(); err != nil {
//		log.Fatal(err)
//	}
//
// Initialize may be run repeatedly; existing files and directories are
// never overwritten.
package project
