package sqlite_test

import (
	"testing"

	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/domain"
	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/domain/devicerepotest"
	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/domain/rolloutrepotest"
	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/infrastructure/sqlite"
)

func TestDeviceRepo(t *testing.T) {
	devicerepotest.Run(t, func(t *testing.T) domain.DeviceRepository {
		db := sqlite.OpenTestDB(t)
		return &sqlite.DeviceRepo{DB: db}
	})
}

func TestRolloutRepo(t *testing.T) {
	rolloutrepotest.Run(t, func(t *testing.T) domain.RolloutRepository {
		db := sqlite.OpenTestDB(t)
		return &sqlite.RolloutRepo{DB: db}
	})
}

func TestSchemaVersion(t *testing.T) {
	db := sqlite.OpenTestDB(t)
	v, err := sqlite.SchemaVersion(db)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 1 {
		t.Errorf("SchemaVersion = %d, want 1", v)
	}
}
