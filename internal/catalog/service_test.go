package catalog

import (
	"context"
	"testing"

	"github.com/bmms/bmms-server/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestService(t *testing.T) *Service {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&types.ModelRecord{}))
	return NewService(db)
}

func TestService_CreateAndFind(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	record := &types.ModelRecord{
		Name:           "model.ipt",
		SourcePath:     "./uploads/model.ipt",
		DerivativePath: "./downloads/urn123/guid456",
	}
	require.NoError(t, service.Create(ctx, record))

	exists, err := service.Exists(ctx, "model.ipt")
	require.NoError(t, err)
	assert.True(t, exists)

	found, err := service.FindOne(ctx, "model.ipt")
	require.NoError(t, err)
	assert.Equal(t, "./downloads/urn123/guid456", found.DerivativePath)
	assert.NotEqual(t, found.ID.String(), "00000000-0000-0000-0000-000000000000")
}

func TestService_FindOne_Missing(t *testing.T) {
	service := setupTestService(t)

	_, err := service.FindOne(context.Background(), "absent.ipt")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	exists, err := service.Exists(context.Background(), "absent.ipt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestService_Update_ReplacesDerivativePath(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	require.NoError(t, service.Create(ctx, &types.ModelRecord{
		Name:           "model.ipt",
		SourcePath:     "./uploads/model.ipt",
		DerivativePath: "./downloads/urn123/old-guid",
	}))

	require.NoError(t, service.Update(ctx, &types.ModelRecord{
		Name:           "model.ipt",
		SourcePath:     "./uploads/model.ipt",
		DerivativePath: "./downloads/urn123/new-guid",
	}))

	found, err := service.FindOne(ctx, "model.ipt")
	require.NoError(t, err)
	assert.Equal(t, "./downloads/urn123/new-guid", found.DerivativePath)

	// The update path must not create a duplicate.
	records, err := service.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestService_List_FiltersByName(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	for _, name := range []string{"gearbox.ipt", "Gearbox-v2.ipt", "housing.ipt"} {
		require.NoError(t, service.Create(ctx, &types.ModelRecord{
			Name:       name,
			SourcePath: "./uploads/" + name,
		}))
	}

	all, err := service.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	// Substring match is case-insensitive.
	filtered, err := service.List(ctx, "gearbox")
	require.NoError(t, err)
	require.Len(t, filtered, 2)
	names := []string{filtered[0].Name, filtered[1].Name}
	assert.ElementsMatch(t, []string{"gearbox.ipt", "Gearbox-v2.ipt"}, names)

	none, err := service.List(ctx, "turbine")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestService_Update_Missing(t *testing.T) {
	service := setupTestService(t)

	err := service.Update(context.Background(), &types.ModelRecord{Name: "absent.ipt"})
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestService_Create_DuplicateName(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	require.NoError(t, service.Create(ctx, &types.ModelRecord{Name: "model.ipt", SourcePath: "a"}))
	assert.Error(t, service.Create(ctx, &types.ModelRecord{Name: "model.ipt", SourcePath: "b"}))
}
