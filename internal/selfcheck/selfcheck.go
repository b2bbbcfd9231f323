// Package selfcheck verifies that a deployment can record submissions: the
// sheets exist, the registry carries the expected headers, the default folder
// is reachable and the optional services answer.
package selfcheck

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vbonduro/checkin/internal/tabular"
)

type HeaderReader interface {
	HeaderRow(ctx context.Context, table string) ([]string, error)
}

type ContainerChecker interface {
	ContainerExists(ctx context.Context, container string) (bool, error)
}

// Probe is an optional dependency check, such as Chrome or Redis.
type Probe struct {
	Name string
	// Required failures fail the whole run.
	Required bool
	Check    func(ctx context.Context) error
}

type Config struct {
	LogTable      string
	RoomsTable    string
	RoomHeaders   []string
	DefaultFolder string
}

// Check is the outcome of one verification.
type Check struct {
	Name     string
	Detail   string
	Err      error
	Required bool
}

func (c Check) Failed() bool {
	return c.Err != nil && c.Required
}

func (c Check) String() string {
	status := "ok"
	switch {
	case c.Failed():
		status = "FAIL"
	case c.Err != nil:
		status = "warn"
	}
	line := fmt.Sprintf("[%s] %s", status, c.Name)
	if c.Detail != "" {
		line += ": " + c.Detail
	}
	if c.Err != nil {
		line += " (" + c.Err.Error() + ")"
	}
	return line
}

type Checker struct {
	tables HeaderReader
	blobs  ContainerChecker
	cfg    Config
	probes []Probe
}

func New(tables HeaderReader, blobs ContainerChecker, cfg Config, probes ...Probe) *Checker {
	return &Checker{tables: tables, blobs: blobs, cfg: cfg, probes: probes}
}

// Run performs every check in order and returns them all.
func (c *Checker) Run(ctx context.Context) []Check {
	checks := []Check{
		c.checkTable(ctx, c.cfg.LogTable, nil),
		c.checkTable(ctx, c.cfg.RoomsTable, c.cfg.RoomHeaders),
		c.checkFolder(ctx),
	}
	for _, p := range c.probes {
		checks = append(checks, Check{Name: p.Name, Required: p.Required, Err: p.Check(ctx)})
	}
	return checks
}

func (c *Checker) checkTable(ctx context.Context, table string, want []string) Check {
	check := Check{Name: "sheet " + table, Required: true}
	headers, err := c.tables.HeaderRow(ctx, table)
	if err != nil {
		if errors.Is(err, tabular.ErrUnknownTable) {
			check.Err = errors.New("sheet not found")
		} else {
			check.Err = err
		}
		return check
	}
	if len(want) == 0 {
		check.Detail = fmt.Sprintf("%d columns", len(headers))
		return check
	}

	var present, missing []string
	for _, h := range want {
		if tabular.ColumnIndex(headers, h) > 0 {
			present = append(present, h)
		} else {
			missing = append(missing, h)
		}
	}
	check.Detail = "headers present: " + joinOrNone(present)
	if len(missing) > 0 {
		check.Detail += "; missing: " + joinOrNone(missing)
	}
	return check
}

func (c *Checker) checkFolder(ctx context.Context) Check {
	check := Check{Name: "default folder " + c.cfg.DefaultFolder, Required: true}
	ok, err := c.blobs.ContainerExists(ctx, c.cfg.DefaultFolder)
	switch {
	case err != nil:
		check.Err = err
	case !ok:
		check.Err = errors.New("folder not found")
	}
	return check
}

// Failed reports whether any required check failed.
func Failed(checks []Check) bool {
	for _, c := range checks {
		if c.Failed() {
			return true
		}
	}
	return false
}

func joinOrNone(s []string) string {
	if len(s) == 0 {
		return "none"
	}
	return strings.Join(s, ", ")
}
