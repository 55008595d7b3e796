//go:build e2e

package mysql

import (
	"context"
	"testing"
	"time"

	"ratewatch/internal/extracthtml"
	"ratewatch/internal/storage"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestSave_MySQLContainer(t *testing.T) {
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		Started: true,
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mysql:8.0",
			ExposedPorts: []string{"3306/tcp"},
			Env: map[string]string{
				"MYSQL_ROOT_PASSWORD": "rootpw",
			},
			WaitingFor: wait.ForLog("port: 3306  MySQL Community Server").WithStartupTimeout(2 * time.Minute),
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "3306")
	require.NoError(t, err)

	repo, err := storage.Open(ctx, storage.Config{
		Kind:           "mysql",
		Host:           host,
		Port:           port.Int(),
		User:           "root",
		Password:       "rootpw",
		Database:       "annuity_test",
		CreateDatabase: true,
	})
	require.NoError(t, err)
	defer repo.Close()

	var a, b extracthtml.Record
	a.Set("Company_Product_Name", "Acme 5")
	a.Set("Current_Rate", "4.50")
	a.Set("Min_Premium", "10,000")
	b.Set("Company_Product_Name", "Beta 7")
	b.Set("Current_Rate", "N/A")

	n, err := storage.Save(ctx, repo, []extracthtml.Record{a, b}, storage.SaveOptions{Table: "annuities", Recreate: true})
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	var count int
	require.NoError(t, repo.(*Repo).db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM `annuities` WHERE `Current_Rate` IS NULL").Scan(&count))
	require.Equal(t, 1, count)
}
