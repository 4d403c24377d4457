package migration

import (
	"hash/crc32"
	"strings"
)

// Checksum computes the Flyway-compatible CRC32 checksum of a migration
// body.
//
// The body is hashed line by line: line terminators are normalized to \n
// before splitting and each line's bytes are fed to the CRC without its
// terminator, so CRLF and LF copies of the same file produce identical
// checksums.
func Checksum(body string) int32 {
	crc := crc32.NewIEEE()
	normalized := strings.ReplaceAll(body, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	for _, line := range strings.Split(normalized, "\n") {
		_, _ = crc.Write([]byte(line))
	}
	return int32(crc.Sum32())
}
