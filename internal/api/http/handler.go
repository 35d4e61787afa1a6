// Package http exposes a read-only view of the ledger over HTTP.
package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/aqasim81/migration-ledger/internal/api/http/dto"
	"github.com/aqasim81/migration-ledger/internal/ledger"
	"github.com/aqasim81/migration-ledger/internal/migration"
	"github.com/aqasim81/migration-ledger/internal/verify"
)

const healthTimeout = 5 * time.Second

// Lister is the read side of the ledger.
type Lister interface {
	List(ctx context.Context) ([]ledger.MigrationRecord, error)
}

// Handler handles HTTP API requests
type Handler struct {
	store         Lister
	migrationsDir string
	log           logrus.FieldLogger
}

// NewHandler creates a new HTTP handler. The verify route is only
// registered when migrationsDir is not empty.
func NewHandler(store Lister, migrationsDir string, log logrus.FieldLogger) *Handler {
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}

	return &Handler{store: store, migrationsDir: migrationsDir, log: log}
}

// RegisterRoutes registers HTTP routes
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/migrations", h.listMigrations)
		api.GET("/migrations/:id", h.getMigration)
		api.GET("/health", h.Health)

		if h.migrationsDir != "" {
			api.GET("/verify", h.verify)
		}
	}
}

// listMigrations lists ledger records in ledger order
func (h *Handler) listMigrations(c *gin.Context) {
	var filters dto.MigrationListFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	records, err := h.store.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}

	items := make([]dto.MigrationListItem, 0, len(records))
	for _, rec := range records {
		if !matches(filters, rec) {
			continue
		}

		items = append(items, dto.NewMigrationListItem(rec))
	}

	c.JSON(http.StatusOK, dto.MigrationListResponse{Items: items, Total: len(items)})
}

func matches(f dto.MigrationListFilters, rec ledger.MigrationRecord) bool {
	if f.Name != "" && rec.MigrationName != f.Name {
		return false
	}

	switch f.Status {
	case "finished":
		return rec.Finished()
	case "unfinished":
		return !rec.Finished()
	case "rolled_back":
		return rec.RolledBack()
	}

	return true
}

// getMigration returns one full record by id
func (h *Handler) getMigration(c *gin.Context) {
	id := c.Param("id")

	records, err := h.store.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}

	for _, rec := range records {
		if rec.ID == id {
			c.JSON(http.StatusOK, dto.MigrationDetailResponse{
				MigrationRecord: rec,
				ChecksumValid:   rec.ChecksumValid(),
			})

			return
		}
	}

	c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "migration record not found"})
}

// verify compares the migrations directory with the ledger
func (h *Handler) verify(c *gin.Context) {
	migrations, err := migration.LoadFromDir(h.migrationsDir)
	if err != nil {
		h.log.WithError(err).Error("loading migrations")
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})

		return
	}

	report, err := verify.Check(c.Request.Context(), h.store, migrations)
	if err != nil {
		h.fail(c, err)
		return
	}

	status := http.StatusOK
	if len(report.Problems()) > 0 {
		status = http.StatusConflict
	}

	c.JSON(status, report)
}

// Health handles health check requests
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	healthStatus := gin.H{"status": "healthy", "checks": gin.H{"ledger": "ok"}}
	statusCode := http.StatusOK

	if _, err := h.store.List(ctx); err != nil {
		healthStatus["status"] = "unhealthy"
		healthStatus["checks"] = gin.H{"ledger": err.Error()}
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, healthStatus)
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, ledger.ErrStoreUnavailable) {
		status = http.StatusServiceUnavailable
	}

	h.log.WithError(err).WithField("path", c.FullPath()).Error("ledger request failed")
	c.JSON(status, dto.ErrorResponse{Error: err.Error()})
}
