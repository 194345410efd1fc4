// Package checksum implements the Flyway-compatible migration checksum.
//
// Flyway computes a CRC32 over a migration script by folding each logical
// line's bytes into one running hash with no delimiter between lines. Lines
// are split on '\n' with a single trailing '\r' trimmed, and a trailing
// newline produces no extra empty line. The result is recorded as a signed
// 32-bit integer in the schema history table.
//
// The practical consequence, and the reason the algorithm must be preserved
// exactly: a script's checksum is stable under LF/CRLF conversion and under
// addition or removal of a trailing newline, so checking a repository out on
// Windows does not invalidate already-applied migrations. History rows
// written by Flyway itself validate against checksums computed here.
package checksum

import (
	"hash/crc32"
	"strings"
)

// Sum returns the Flyway-compatible CRC32 of a migration script.
//
// Example usage:
//
//	crc := checksum.Sum("CREATE TABLE users (id serial primary key);")
//	fmt.Printf("checksum: %d\n", crc)
//
// An empty script sums to 0.
func Sum(content string) int32 {
	h := crc32.NewIEEE()

	for len(content) > 0 {
		var line string
		if i := strings.IndexByte(content, '\n'); i >= 0 {
			line, content = content[:i], content[i+1:]
		} else {
			line, content = content, ""
		}

		// A lone trailing CR belongs to the line terminator, not the line.
		line = strings.TrimSuffix(line, "\r")

		_, _ = h.Write([]byte(line))
	}

	return int32(h.Sum32())
}
