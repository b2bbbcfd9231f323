// Package folder resolves where a room's uploads are stored.
package folder

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vbonduro/checkin/internal/cache"
	"github.com/vbonduro/checkin/internal/rooms"
)

var (
	bareID = regexp.MustCompile(`^[A-Za-z0-9_-]{20,}$`)
	urlID  = regexp.MustCompile(`/folders/([A-Za-z0-9_-]{20,})`)
)

// ExtractID returns the location id held in val, which is either a bare id of
// at least 20 URL-safe characters or a URL with a /folders/<id> segment.
func ExtractID(val string) (string, bool) {
	val = strings.TrimSpace(val)
	if val == "" {
		return "", false
	}
	if bareID.MatchString(val) {
		return val, true
	}
	if m := urlID.FindStringSubmatch(val); m != nil {
		return m[1], true
	}
	return "", false
}

// RoomFinder looks up a registry row by room id.
type RoomFinder interface {
	Find(ctx context.Context, roomID string) (rooms.Room, bool, error)
}

// Lookup resolves room ids to location ids through the Rooms registry,
// caching hits for ttl.
type Lookup struct {
	finder RoomFinder
	cache  cache.Cache
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

func NewLookup(finder RoomFinder, c cache.Cache, ttl time.Duration, logger *slog.Logger) *Lookup {
	return &Lookup{finder: finder, cache: c, ttl: ttl, logger: logger}
}

type result struct {
	id string
	ok bool
}

// Resolve returns the first id extractable from the room's candidate header
// columns, in order. Unknown rooms and rooms with no usable column are a
// miss, not an error. Cache failures only cost a registry read.
func (l *Lookup) Resolve(ctx context.Context, roomID string, headers []string) (string, bool, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return "", false, nil
	}

	key := "ROOMFOLDER:" + strings.Join(headers, ",") + ":" + roomID
	if id, ok, err := l.cache.Get(ctx, key); err != nil {
		l.logger.Warn("folder cache get failed", "key", key, "error", err)
	} else if ok {
		return id, true, nil
	}

	// The shared call outlives any one caller's cancellation.
	shared := context.WithoutCancel(ctx)
	v, err, _ := l.group.Do(key, func() (any, error) {
		id, ok, err := l.lookup(shared, roomID, headers)
		if err != nil || !ok {
			return result{}, err
		}
		if err := l.cache.Set(shared, key, id, l.ttl); err != nil {
			l.logger.Warn("folder cache set failed", "key", key, "error", err)
		}
		return result{id: id, ok: true}, nil
	})
	if err != nil {
		return "", false, err
	}
	res := v.(result)
	return res.id, res.ok, nil
}

func (l *Lookup) lookup(ctx context.Context, roomID string, headers []string) (string, bool, error) {
	room, ok, err := l.finder.Find(ctx, roomID)
	if err != nil || !ok {
		return "", false, err
	}
	for _, h := range headers {
		if id, ok := ExtractID(room[h]); ok {
			return id, true, nil
		}
	}
	return "", false, nil
}

// Via records which step of the fallback chain produced a Destination.
type Via string

const (
	ViaCheckin Via = "checkin"
	ViaRoom    Via = "room"
	ViaDefault Via = "default"
)

type Destination struct {
	ID  string
	Via Via
}

// Chain resolves a room's upload destination: its check-in folder, then its
// room folder, then the configured default.
type Chain struct {
	lookup        *Lookup
	checkinHeader string
	roomHeader    string
	defaultID     string
	logger        *slog.Logger
}

func NewChain(lookup *Lookup, checkinHeader, roomHeader, defaultID string, logger *slog.Logger) *Chain {
	return &Chain{
		lookup:        lookup,
		checkinHeader: checkinHeader,
		roomHeader:    roomHeader,
		defaultID:     defaultID,
		logger:        logger,
	}
}

// Resolve never fails: a registry error falls through to the next step.
func (c *Chain) Resolve(ctx context.Context, roomID string) Destination {
	steps := []struct {
		header string
		via    Via
	}{
		{c.checkinHeader, ViaCheckin},
		{c.roomHeader, ViaRoom},
	}
	for _, step := range steps {
		id, ok, err := c.lookup.Resolve(ctx, roomID, []string{step.header})
		if err != nil {
			c.logger.Warn("folder lookup failed", "room_id", roomID, "via", step.via, "error", err)
			continue
		}
		if ok {
			return Destination{ID: id, Via: step.via}
		}
	}
	c.logger.Info("using default folder", "room_id", roomID)
	return Destination{ID: c.defaultID, Via: ViaDefault}
}

// Default is the configured fallback location.
func (c *Chain) Default() string {
	return c.defaultID
}
