// Package testhelpers provides shared fixtures for integration tests.
package testhelpers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresImage is the image used for the shared Postgres container.
const PostgresImage = "postgres:16-alpine"

// TestDB holds a shared test database container and connection pool.
type TestDB struct {
	Container testcontainers.Container
	Pool      *pgxpool.Pool
	ConnStr   string

	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// ConnectionMap returns the generic datasource connection map for this DB.
func (db *TestDB) ConnectionMap() map[string]any {
	return map[string]any{
		"host":     db.Host,
		"port":     db.Port,
		"user":     db.User,
		"password": db.Password,
		"database": db.Database,
		"ssl_mode": "disable",
	}
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a shared PostgreSQL container seeded with a small
// point-of-sale schema. The container is created once per test binary.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	const (
		user     = "iacandy"
		password = "test_password"
		dbName   = "pos_test"
	)

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       dbName,
			"POSTGRES_USER":     user,
			"POSTGRES_PASSWORD": password,
		},
		// The entrypoint restarts the server once after init.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		user, password, host, port.Port(), dbName)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = pool.Ping(ctx); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err != nil {
		return nil, fmt.Errorf("ping test database: %w", err)
	}

	if _, err := pool.Exec(ctx, seedSchema); err != nil {
		return nil, fmt.Errorf("seed test schema: %w", err)
	}

	return &TestDB{
		Container: container,
		Pool:      pool,
		ConnStr:   connStr,
		Host:      host,
		Port:      port.Int(),
		User:      user,
		Password:  password,
		Database:  dbName,
	}, nil
}

const seedSchema = `
CREATE TABLE clientes (
	cliente_id integer PRIMARY KEY,
	nombre varchar(100) NOT NULL,
	estatus char(1) NOT NULL DEFAULT 'A'
);

CREATE TABLE articulos (
	articulo_id integer PRIMARY KEY,
	nombre varchar(100) NOT NULL,
	precio numeric(12,2) NOT NULL
);

CREATE TABLE doctos_pv (
	docto_pv_id integer PRIMARY KEY,
	cliente_id integer NOT NULL REFERENCES clientes(cliente_id),
	fecha date NOT NULL,
	importe_neto numeric(12,2) NOT NULL,
	cancelado char(1) NOT NULL DEFAULT 'N'
);

INSERT INTO clientes VALUES (1, 'JUAN PEREZ', 'A'), (2, 'MARIA LOPEZ', 'A'), (3, 'PUBLICO GENERAL', 'B');
INSERT INTO articulos VALUES (10, 'REFRESCO 600ML', 18.50), (11, 'GALLETAS', 22.00);
INSERT INTO doctos_pv VALUES
	(100, 1, DATE '2024-01-15', 150.25, 'N'),
	(101, 2, DATE '2024-02-01', 80.00, 'N'),
	(102, 1, DATE '2024-02-10', 42.00, 'S');

CREATE FUNCTION ventas_periodo(fecha_ini date, fecha_fin date)
RETURNS TABLE (cliente_id integer, total numeric) AS $$
	SELECT cliente_id, SUM(importe_neto) FROM doctos_pv
	WHERE fecha BETWEEN fecha_ini AND fecha_fin AND cancelado = 'N'
	GROUP BY cliente_id
$$ LANGUAGE sql STABLE;

COMMENT ON FUNCTION ventas_periodo(date, date) IS 'Ventas por cliente en un periodo';

CREATE FUNCTION precio_con_iva(precio numeric)
RETURNS numeric AS $$ SELECT precio * 1.16 $$ LANGUAGE sql IMMUTABLE;
`
