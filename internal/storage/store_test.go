package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"eurobot/internal/lottery"
	"eurobot/pkg/logx"
)

// StoreSuite is the contract every driver must satisfy.
type StoreSuite struct {
	suite.Suite
	open  func(t *testing.T) Store
	store Store
	ctx   context.Context
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.open(s.T())
}

func (s *StoreSuite) TearDownTest() {
	if s.store != nil {
		s.Require().NoError(s.store.Close())
	}
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, &StoreSuite{open: func(t *testing.T) Store { return NewMemory() }})
}

func TestFileStoreSuite(t *testing.T) {
	suite.Run(t, &StoreSuite{open: func(t *testing.T) Store {
		st, err := Open(Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
		if err != nil {
			t.Fatalf("open file store: %v", err)
		}
		return st
	}})
}

func TestSQLiteStoreSuite(t *testing.T) {
	suite.Run(t, &StoreSuite{open: func(t *testing.T) Store {
		st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "eurobot.db")}, logx.Nop())
		if err != nil {
			t.Fatalf("open sqlite store: %v", err)
		}
		return st
	}})
}

// Runs only when a disposable redis is provided, e.g.
// EUROBOT_TEST_REDIS_URL=redis://localhost:6379/15
func TestRedisStoreSuite(t *testing.T) {
	url := os.Getenv("EUROBOT_TEST_REDIS_URL")
	if url == "" {
		t.Skip("EUROBOT_TEST_REDIS_URL not set")
	}
	suite.Run(t, &StoreSuite{open: func(t *testing.T) Store {
		prefix := "eurobot-test:" + filepath.Base(t.TempDir()) + ":"
		st, err := Open(Config{Driver: "redis", RedisURL: url, KeyPrefix: prefix}, logx.Nop())
		if err != nil {
			t.Fatalf("open redis store: %v", err)
		}
		return st
	}})
}

func (s *StoreSuite) TestSelections() {
	s.Run("absent user", func() {
		sel, ok, err := s.store.GetSelection(s.ctx, 404)
		s.Require().NoError(err)
		s.False(ok)
		s.Nil(sel)
	})

	s.Run("empty list is not an error", func() {
		all, err := s.store.ListSelections(s.ctx)
		s.Require().NoError(err)
		s.NotNil(all)
	})

	s.Run("put then get", func() {
		s.Require().NoError(s.store.PutSelection(s.ctx, 42, lottery.Selection{5, 12, 23, 34, 45, 3, 11}))
		sel, ok, err := s.store.GetSelection(s.ctx, 42)
		s.Require().NoError(err)
		s.True(ok)
		s.Equal(lottery.Selection{5, 12, 23, 34, 45, 3, 11}, sel)
	})

	s.Run("whole record replace", func() {
		s.Require().NoError(s.store.PutSelection(s.ctx, 42, lottery.Selection{1, 2, 3, 4, 5, 6, 7}))
		sel, _, err := s.store.GetSelection(s.ctx, 42)
		s.Require().NoError(err)
		s.Equal(lottery.Selection{1, 2, 3, 4, 5, 6, 7}, sel)
	})

	s.Run("invalid leaves prior record", func() {
		err := s.store.PutSelection(s.ctx, 42, lottery.Selection{1, 2, 3, 4, 5, 6})
		s.Require().ErrorIs(err, lottery.ErrInvalidSelection)
		sel, ok, err := s.store.GetSelection(s.ctx, 42)
		s.Require().NoError(err)
		s.True(ok)
		s.Equal(lottery.Selection{1, 2, 3, 4, 5, 6, 7}, sel)
	})

	s.Run("list returns a copy", func() {
		all, err := s.store.ListSelections(s.ctx)
		s.Require().NoError(err)
		s.Require().Contains(all, int64(42))
		all[42][0] = 49
		delete(all, 42)

		again, err := s.store.ListSelections(s.ctx)
		s.Require().NoError(err)
		s.Equal(lottery.Selection{1, 2, 3, 4, 5, 6, 7}, again[42])
	})
}

func (s *StoreSuite) TestConcurrentPutsKeepEveryUser() {
	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(uid int64) {
			defer wg.Done()
			s.NoError(s.store.PutSelection(s.ctx, uid, lottery.Selection{1, 2, 3, 4, 5, 1, 2}))
		}(int64(i))
	}
	wg.Wait()

	all, err := s.store.ListSelections(s.ctx)
	s.Require().NoError(err)
	s.Len(all, 20)
}

func (s *StoreSuite) TestDrawCache() {
	_, ok, err := s.store.LastAnnounced(s.ctx)
	s.Require().NoError(err)
	s.False(ok)

	s.Require().NoError(s.store.MarkAnnounced(s.ctx, "2024-05-10"))
	s.Require().NoError(s.store.MarkAnnounced(s.ctx, "2024-05-10"))
	date, ok, err := s.store.LastAnnounced(s.ctx)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal("2024-05-10", date)

	s.Require().NoError(s.store.MarkAnnounced(s.ctx, "2024-05-14"))
	date, _, err = s.store.LastAnnounced(s.ctx)
	s.Require().NoError(err)
	s.Equal("2024-05-14", date)
}

func (s *StoreSuite) TestAppendAudit() {
	s.Require().NoError(s.store.AppendAudit(s.ctx, AuditEntry{Action: ActionFanout, DrawDate: "2024-05-10", OK: 3, Fail: 1}))
	s.Require().NoError(s.store.AppendAudit(s.ctx, AuditEntry{Action: ActionRegister, UserID: 42}))
}
