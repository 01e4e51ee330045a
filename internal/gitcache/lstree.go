package gitcache

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/justbuild-go/just-mr/internal/objcodec"
)

// parseLsTreeOutput parses the porcelain format `git cat-file -p <tree>`
// emits: one line per entry, "<mode> <type> <hash>\t<name>".
func parseLsTreeOutput(body []byte) ([]objcodec.TreeEntry, error) {
	var entries []objcodec.TreeEntry
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		tab := strings.IndexByte(line, '\t')
		if tab < 0 {
			return nil, fmt.Errorf("malformed tree entry line %q", line)
		}
		name := line[tab+1:]
		fields := strings.SplitN(line[:tab], " ", 3)
		if len(fields) != 3 {
			return nil, fmt.Errorf("malformed tree entry line %q", line)
		}
		mode, err := strconv.ParseUint(fields[0], 8, 32)
		if err != nil {
			return nil, fmt.Errorf("malformed tree entry mode %q: %w", fields[0], err)
		}
		entries = append(entries, objcodec.TreeEntry{
			Mode: objcodec.Mode(mode),
			Name: name,
			Hash: objcodec.Hash(fields[2]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning tree output: %w", err)
	}
	return entries, nil
}
