package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/sjteam/spoolscan/internal/api"
	"github.com/sjteam/spoolscan/internal/models"
)

// ErrValidation marks input rejected before any request is made.
var ErrValidation = errors.New("invalid input")

// MsgInvalidAmount is shown when the usage amount is not a positive number.
const MsgInvalidAmount = "enter a positive amount in grams"

// Backend is the slice of the REST client the bridge needs.
type Backend interface {
	DeleteSpool(ctx context.Context, id int64) error
	CreateUsage(ctx context.Context, u models.UsageCreate) (*models.Usage, error)
	ListProjects(ctx context.Context) ([]models.Project, error)
	CreateProject(ctx context.Context, p models.ProjectCreate) (*models.Project, error)
}

// Bridge runs inventory actions for a View and publishes changes on a Bus.
type Bridge struct {
	backend Backend
	bus     *Bus
	log     *slog.Logger
}

// NewBridge creates a bridge.
func NewBridge(b Backend, bus *Bus, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{backend: b, bus: bus, log: log.With("component", "inventory")}
}

// ValidateAmount parses a usage amount. Anything that is not a finite number
// greater than zero is rejected.
func ValidateAmount(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrValidation, MsgInvalidAmount)
	}
	return v, nil
}

// DeleteSpool deletes the shown spool. On success the view closes and the
// change is published; on failure the view stays open with an inline error.
func (b *Bridge) DeleteSpool(ctx context.Context, v *View) error {
	spool, gen, err := v.beginDelete()
	if err != nil {
		return err
	}

	if err := b.backend.DeleteSpool(ctx, spool.ID); err != nil {
		b.log.Warn("Failed to delete spool", "spool_id", spool.ID, "error", err)
		v.deleteDone(gen, errors.New(api.Detail(err)))
		return err
	}

	b.log.Info("Spool deleted", "spool_id", spool.ID)
	v.deleteDone(gen, nil)
	b.publish()
	return nil
}

// RecordUsage submits the usage form of v. A rejected amount never reaches
// the backend. On any failure the sub-dialog stays open with the form intact.
func (b *Bridge) RecordUsage(ctx context.Context, v *View) error {
	spool, form, gen, err := v.beginUsage()
	if err != nil {
		return err
	}

	amount, err := ValidateAmount(form.Amount)
	if err != nil {
		v.usageRejected(gen, MsgInvalidAmount)
		return err
	}

	projectID, err := b.projectID(ctx, spool, form.Project)
	if err != nil {
		b.log.Warn("Failed to resolve project", "project", form.Project, "error", err)
		v.usageRejected(gen, api.Detail(err))
		return err
	}

	usage, err := b.backend.CreateUsage(ctx, models.UsageCreate{
		SpoolID:    spool.ID,
		AmountUsed: amount,
		Purpose:    strings.TrimSpace(form.Purpose),
		ProjectID:  projectID,
	})
	if err != nil {
		b.log.Warn("Failed to record usage", "spool_id", spool.ID, "amount", amount, "error", err)
		v.usageRejected(gen, api.Detail(err))
		return err
	}

	b.log.Info("Usage recorded", "spool_id", spool.ID, "usage_id", usage.ID, "amount", amount)
	v.usageDone(gen, amount)
	b.publish()
	return nil
}

// projectID turns the free-form project field into a numeric id. Digits are
// taken as an id; a name is matched against existing projects and created
// when missing.
func (b *Bridge) projectID(ctx context.Context, spool models.Spool, field string) (*int64, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return nil, nil
	}
	if id, err := strconv.ParseInt(field, 10, 64); err == nil {
		return &id, nil
	}

	projects, err := b.backend.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	var match *models.Project
	for i := range projects {
		p := &projects[i]
		if !strings.EqualFold(strings.TrimSpace(p.Name), field) {
			continue
		}
		if match == nil || sameGroup(p.GroupID, spool.GroupID) {
			match = p
		}
	}
	if match != nil {
		return &match.ID, nil
	}

	created, err := b.backend.CreateProject(ctx, models.ProjectCreate{Name: field, GroupID: spool.GroupID})
	if err != nil {
		return nil, fmt.Errorf("failed to create project %q: %w", field, err)
	}
	b.log.Info("Project created for usage", "project_id", created.ID, "name", field)
	return &created.ID, nil
}

func sameGroup(a, b *int64) bool {
	return a != nil && b != nil && *a == *b
}

func (b *Bridge) publish() {
	if b.bus != nil {
		b.bus.Publish()
	}
}
