package position

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	json "github.com/goccy/go-json"
)

// FileGeolocation reads the latest fix from a JSON file written by a GPS
// daemon, e.g. {"latitude":47.2,"longitude":-2.1,"dateTime":"..."}.
// An unreadable file counts as a denied permission.
type FileGeolocation struct {
	Path string
}

// CurrentPosition implements Geolocation.
func (g FileGeolocation) CurrentPosition(ctx context.Context) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, err
	}
	raw, err := os.ReadFile(g.Path)
	if errors.Is(err, fs.ErrPermission) {
		return Position{}, ErrPermissionDenied
	}
	if err != nil {
		return Position{}, fmt.Errorf("position: read %s: %w", g.Path, err)
	}
	var fix Position
	if err := json.Unmarshal(raw, &fix); err != nil {
		return Position{}, fmt.Errorf("position: decode %s: %w", g.Path, err)
	}
	if fix.Latitude < -90 || fix.Latitude > 90 || fix.Longitude < -180 || fix.Longitude > 180 {
		return Position{}, fmt.Errorf("position: fix out of range (%f, %f)", fix.Latitude, fix.Longitude)
	}
	return fix, nil
}
