package sqlite_test

import (
	"testing"

	"github.com/splax/sitedeploy/internal/repository"
	"github.com/splax/sitedeploy/internal/repository/repositorytest"
	"github.com/splax/sitedeploy/internal/repository/sqlite"
)

func TestRepository(t *testing.T) {
	repositorytest.Run(t, func(t *testing.T) repository.Store {
		return sqlite.New(sqlite.OpenTestDB(t))
	})
}

func TestOpenIsIdempotentOnFile(t *testing.T) {
	path := t.TempDir() + "/sitedeploy.db"
	for i := 0; i < 2; i++ {
		db, err := sqlite.Open(path)
		if err != nil {
			t.Fatalf("Open #%d: %v", i+1, err)
		}
		db.Close()
	}
}
