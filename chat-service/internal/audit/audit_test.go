package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isaacberry91/propswipes-sub000/pkg/log"
)

func TestLogTarget(t *testing.T) {
	var buf bytes.Buffer
	ctx := log.WithLogger(context.Background(), log.New(log.Config{Level: "info", Output: &buf}))

	LogTarget(ctx, ActionDeleteMessage, "user-1", "msg-1", "message deleted")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, log.LogTypeAudit, entry[log.FieldLogType])
	assert.Equal(t, ActionDeleteMessage, entry[FieldAction])
	assert.Equal(t, "user-1", entry[log.FieldUserID])
	assert.Equal(t, "msg-1", entry[FieldTargetID])
	assert.Equal(t, "message deleted", entry["message"])
}
