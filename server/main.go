package main

import (
	"context"
	"errors"
	"log"
	"os"

	"github.com/gofiber/fiber/v3"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meikuraledutech/flowvc"
	"github.com/meikuraledutech/flowvc/catalog"
	"github.com/meikuraledutech/flowvc/engine"
	"github.com/meikuraledutech/flowvc/postgres"
)

func main() {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}
	engineURL := os.Getenv("ENGINE_URL")
	if engineURL == "" {
		log.Fatal("ENGINE_URL is not set")
	}
	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":3000"
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	store := postgres.New(pool)
	source := engine.New(engineURL, os.Getenv("ENGINE_API_KEY"))
	svc := flowvc.NewService(store, source, catalog.Builtin())

	app := fiber.New()

	// ── Schema ────────────────────────────────────────────────────────
	app.Post("/schema", func(c fiber.Ctx) error {
		if err := store.CreateSchema(c.Context()); err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"message": "schema created"})
	})

	// ── Branches ──────────────────────────────────────────────────────
	app.Post("/documents/:id/branches", func(c fiber.Ctx) error {
		var body struct {
			Name          string `json:"name"`
			BaseVersionID string `json:"base_version_id"`
			Author        string `json:"author"`
		}
		if err := c.Bind().JSON(&body); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}
		branch, err := svc.CreateBranch(c.Context(), c.Params("id"), body.Name, body.BaseVersionID, body.Author)
		if err != nil {
			return fail(c, err)
		}
		return c.Status(201).JSON(branch)
	})

	app.Get("/documents/:id/branches", func(c fiber.Ctx) error {
		branches, err := svc.ListBranches(c.Context(), c.Params("id"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(branches)
	})

	app.Post("/branches/:id/abandon", func(c fiber.Ctx) error {
		branch, err := svc.AbandonBranch(c.Context(), c.Params("id"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(branch)
	})

	// ── Versions ──────────────────────────────────────────────────────
	app.Post("/branches/:id/snapshots", func(c fiber.Ctx) error {
		var body struct {
			Name   string `json:"name"`
			Author string `json:"author"`
		}
		if err := c.Bind().JSON(&body); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}
		result, err := svc.CreateSnapshot(c.Context(), c.Params("id"), body.Name, body.Author)
		if err != nil {
			return fail(c, err)
		}
		if result.Created {
			return c.Status(201).JSON(result)
		}
		return c.JSON(result)
	})

	app.Post("/branches/:id/restore", func(c fiber.Ctx) error {
		var body struct {
			VersionID string `json:"version_id"`
			Author    string `json:"author"`
		}
		if err := c.Bind().JSON(&body); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}
		if body.VersionID == "" {
			return c.Status(400).JSON(fiber.Map{"error": "version_id is required"})
		}
		v, err := svc.RestoreVersion(c.Context(), c.Params("id"), body.VersionID, body.Author)
		if err != nil {
			return fail(c, err)
		}
		return c.Status(201).JSON(v)
	})

	app.Get("/documents/:id/versions", func(c fiber.Ctx) error {
		versions, err := svc.VersionHistory(c.Context(), c.Params("id"), fiber.Query[int](c, "limit"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(versions)
	})

	app.Get("/versions/compare", func(c fiber.Ctx) error {
		from, to := fiber.Query[string](c, "from"), fiber.Query[string](c, "to")
		if from == "" || to == "" {
			return c.Status(400).JSON(fiber.Map{"error": "from and to are required"})
		}
		d, err := svc.CompareVersions(c.Context(), from, to)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(d)
	})

	// ── Merges ────────────────────────────────────────────────────────
	app.Post("/merges/preview", func(c fiber.Ctx) error {
		var body mergeRequest
		if err := c.Bind().JSON(&body); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}
		preview, err := svc.PreviewMerge(c.Context(), body.SourceBranchID, body.TargetBranchID)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(preview)
	})

	app.Post("/merges", func(c fiber.Ctx) error {
		var body mergeRequest
		if err := c.Bind().JSON(&body); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}
		outcome, err := svc.MergeBranches(c.Context(), body.SourceBranchID, body.TargetBranchID, body.Resolutions, body.Author)
		if err != nil {
			return fail(c, err)
		}
		// A blocked merge is a 200 with success=false and the conflict list.
		return c.JSON(outcome)
	})

	app.Post("/merges/resolve", func(c fiber.Ctx) error {
		var body mergeRequest
		if err := c.Bind().JSON(&body); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}
		outcome, err := svc.ResolveConflicts(c.Context(), body.SourceBranchID, body.TargetBranchID, body.Resolutions, body.Author)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(outcome)
	})

	// ── Node types ────────────────────────────────────────────────────
	app.Get("/node-types/:name", func(c fiber.Ctx) error {
		schema, err := svc.NodeDefaults(c.Context(), c.Params("name"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(schema)
	})

	log.Fatal(app.Listen(addr))
}

type mergeRequest struct {
	SourceBranchID string                       `json:"source_branch_id"`
	TargetBranchID string                       `json:"target_branch_id"`
	Resolutions    map[string]flowvc.Resolution `json:"resolutions"`
	Author         string                       `json:"author"`
}

// fail maps the error taxonomy onto status codes.
func fail(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, flowvc.ErrValidation):
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, flowvc.ErrDocumentNotFound),
		errors.Is(err, flowvc.ErrBranchNotFound),
		errors.Is(err, flowvc.ErrVersionNotFound),
		errors.Is(err, flowvc.ErrTypeNotFound):
		return c.Status(404).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, flowvc.ErrBranchClosed):
		return c.Status(409).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, flowvc.ErrEngineUnavailable):
		return c.Status(503).JSON(fiber.Map{"error": err.Error()})
	default:
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
}
