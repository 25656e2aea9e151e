package docker

import (
	"encoding/binary"
	"strings"
)

const frameHeaderLen = 8

// demuxLogs decodes the Engine's multiplexed stdout/stderr stream. Each frame
// is an 8-byte header (stream byte, three zero bytes, big-endian uint32
// length) followed by the payload. Output of TTY containers is not framed and
// is returned unchanged.
func demuxLogs(data []byte) string {
	if !isMultiplexed(data) {
		return string(data)
	}

	var b strings.Builder
	for len(data) >= frameHeaderLen {
		size := int(binary.BigEndian.Uint32(data[4:frameHeaderLen]))
		data = data[frameHeaderLen:]
		if size > len(data) {
			size = len(data)
		}
		b.Write(data[:size])
		data = data[size:]
	}
	return b.String()
}

func isMultiplexed(data []byte) bool {
	if len(data) < frameHeaderLen {
		return false
	}
	return data[0] <= 2 && data[1] == 0 && data[2] == 0 && data[3] == 0
}

// splitLines splits log output into lines, dropping the trailing newline's
// empty element.
func splitLines(logs string) []string {
	if logs == "" {
		return []string{}
	}
	return strings.Split(strings.TrimSuffix(logs, "\n"), "\n")
}
