package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"eurobot/internal/lottery"
	"eurobot/pkg/logx"
)

func TestFileStoreLegacyLayout(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "user_numbers.json"), []byte(`{"1001":[3,15,30,41,50,2,11]}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "last_draw.json"), []byte(`{"date":"2024-05-07"}`), 0o600))

	st, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	sel, ok, err := st.GetSelection(ctx, 1001)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, lottery.Selection{3, 15, 30, 41, 50, 2, 11}, sel)

	date, ok, err := st.LastAnnounced(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2024-05-07", date)

	require.NoError(t, st.MarkAnnounced(ctx, "2024-05-10"))
	b, err := os.ReadFile(filepath.Join(dir, "last_draw.json"))
	require.NoError(t, err)
	require.JSONEq(t, `{"date":"2024-05-10"}`, string(b))
}

func TestFileStorePicksUpExternalEdits(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	require.NoError(t, st.PutSelection(ctx, 1, lottery.Selection{1, 2, 3, 4, 5, 1, 2}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "user_numbers.json"), []byte(`{"1":[1,2,3,4,5,1,2],"2":[6,7,8,9,10,3,4]}`), 0o600))

	all, err := st.ListSelections(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	require.NoError(t, st.PutSelection(ctx, 3, lottery.Selection{11, 12, 13, 14, 15, 5, 6}))
	all, err = st.ListSelections(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestFileStoreSkipsCorruptEntries(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "user_numbers.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"1":[5,12,23,34,45,3,9],"2":"oops","x":[1]}`), 0o600))

	st, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	all, err := st.ListSelections(ctx)
	require.NoError(t, err)
	require.Equal(t, map[int64]lottery.Selection{1: {5, 12, 23, 34, 45, 3, 9}}, all)

	sel, ok, err := st.GetSelection(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, lottery.Selection{5, 12, 23, 34, 45, 3, 9}, sel)

	_, ok, err = st.GetSelection(ctx, 2)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, st.PutSelection(ctx, 3, lottery.Selection{11, 12, 13, 14, 15, 5, 6}))
	all, err = st.ListSelections(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.JSONEq(t, `{"1":[5,12,23,34,45,3,9],"2":"oops","3":[11,12,13,14,15,5,6],"x":[1]}`, string(b))
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.PutSelection(context.Background(), 1, lottery.Selection{1, 2, 3, 4, 5, 1, 2}))
	require.NoError(t, st.AppendAudit(context.Background(), AuditEntry{Action: ActionRegister, UserID: 1}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.False(t, strings.HasSuffix(e.Name(), ".tmp"), e.Name())
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Driver: "postgres"}, logx.Nop())
	require.Error(t, err)
}
