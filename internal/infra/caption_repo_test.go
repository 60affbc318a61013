package infra

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveRunQuery_UpsertReplacesAllColumns(t *testing.T) {
	m := regexp.MustCompile(`INSERT INTO caption_run \(([^)]*)\)`).FindStringSubmatch(saveRunQuery)
	require.Len(t, m, 2)

	for _, col := range strings.Split(m[1], ",") {
		col = strings.TrimSpace(col)
		if col == "session_id" {
			continue
		}
		assert.Contains(t, saveRunQuery, col+" = EXCLUDED."+col)
	}
}
