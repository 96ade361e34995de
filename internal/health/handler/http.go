package handler

import (
	"context"
	"log"
	"net/http"
	"time"

	"identity-service/backend/internal/platform/httpx"
)

// ServiceName identifies this service in health reports and to the gRPC health protocol.
const ServiceName = "identity"

const pingTimeout = 2 * time.Second

// Pinger is implemented by *sql.DB and *sqlx.DB. Nil means no database is configured.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Report is the health document served at /health.
type Report struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Service  string `json:"service"`
}

// Healthy reports whether every dependency is reachable.
func (r Report) Healthy() bool { return r.Status == "healthy" }

// Checker probes the service dependencies.
type Checker struct {
	db Pinger
}

// NewChecker returns a Checker over db.
func NewChecker(db Pinger) *Checker {
	return &Checker{db: db}
}

// Check pings the database with a short timeout.
func (c *Checker) Check(ctx context.Context) Report {
	rep := Report{Status: "healthy", Database: "connected", Service: ServiceName}
	if c.db == nil {
		return rep
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := c.db.PingContext(ctx); err != nil {
		log.Printf("health: database ping: %v", err)
		rep.Status = "degraded"
		rep.Database = "disconnected"
	}
	return rep
}

// ServeHTTP answers 200 when healthy and 503 otherwise, always with the report body.
func (c *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rep := c.Check(r.Context())
	status := http.StatusOK
	if !rep.Healthy() {
		status = http.StatusServiceUnavailable
	}
	httpx.JSON(w, status, rep)
}
