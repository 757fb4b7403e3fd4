package repositories

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecer struct {
	queries []string
	args    [][]interface{}
	err     error
}

func (f *fakeExecer) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	f.queries = append(f.queries, query)
	f.args = append(f.args, args)
	return nil, f.err
}

func TestActivateParticipantsReactivatesBothRows(t *testing.T) {
	e := &fakeExecer{}

	err := activateParticipants(context.Background(), e, "conv-1", "alice", "bob")
	require.NoError(t, err)

	require.Len(t, e.queries, 2)
	for _, query := range e.queries {
		// The upsert must flip a deactivated (left) participant back to
		// active, not just insert fresh rows.
		assert.Contains(t, query, "ON CONFLICT (conversation_id, user_id) DO UPDATE SET active = TRUE")
	}
	assert.Equal(t, []interface{}{"conv-1", "alice"}, e.args[0])
	assert.Equal(t, []interface{}{"conv-1", "bob"}, e.args[1])
}

func TestActivateParticipantsStopsOnFirstError(t *testing.T) {
	e := &fakeExecer{err: errors.New("db down")}

	err := activateParticipants(context.Background(), e, "conv-1", "alice", "bob")
	require.Error(t, err)
	assert.Len(t, e.queries, 1)
}
