package indexer

import (
	"strconv"
	"strings"
)

const chunkIDPrefix = "chunk_"

func ChunkID(n int) string {
	return chunkIDPrefix + strconv.Itoa(n)
}

// NextChunkSeq returns the counter for the next chunk id: one past the
// highest numeric suffix among ids. Ids without an underscore are ignored;
// when any suffix fails to parse, or none is found, the id count is used.
func NextChunkSeq(ids []string) int {
	if len(ids) == 0 {
		return 0
	}
	highest, found := -1, false
	for _, id := range ids {
		if !strings.Contains(id, "_") {
			continue
		}
		n, err := strconv.Atoi(strings.SplitN(id, "_", 3)[1])
		if err != nil {
			return len(ids)
		}
		if !found || n > highest {
			highest, found = n, true
		}
	}
	if !found {
		return len(ids)
	}
	return highest + 1
}
