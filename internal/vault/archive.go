package vault

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
)

// ArchiveEarly 将 updated_at 早于 cutoff 的非活动会话移入 archive/<同一天>/
// ArchiveEarly moves every non-live session last updated before cutoff into
// archive/<same day>/, keeping file names. Both rollups are updated and
// emptied day directories are removed. Running it again is a no-op for
// sessions already moved. The moved ids are returned sorted; per-session
// failures are joined into the error while the rest still move.
func (v *Vault) ArchiveEarly(cutoff time.Time) ([]string, error) {
	locs, problems := v.scan(v.sessionsDir, false)
	var (
		moved []string
		errs  = problems
	)
	for _, loc := range locs {
		if v.isLive(loc.id) {
			continue
		}
		meta, err := v.readMeta(loc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !meta.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := v.archiveOne(loc, meta); err != nil {
			errs = append(errs, err)
			continue
		}
		moved = append(moved, loc.id)
	}
	sort.Strings(moved)
	if len(moved) > 0 {
		v.log.Info("sessions archived", zap.Int("count", len(moved)), zap.Time("cutoff", cutoff))
	}
	return moved, errors.Join(errs...)
}

func (v *Vault) archiveOne(loc location, meta Meta) error {
	dest := location{id: loc.id, dir: filepath.Join(v.archiveDir, loc.day()), archived: true}
	if err := os.MkdirAll(dest.dir, 0o755); err != nil {
		return newError(ErrPersistence, "archive", loc.id, err)
	}
	// Log first: a session whose meta is still in place is retried next run.
	if err := moveFile(loc.logPath(), dest.logPath()); err != nil {
		return newError(ErrPersistence, "archive", loc.id, err)
	}
	if err := moveFile(loc.metaPath(), dest.metaPath()); err != nil {
		return newError(ErrPersistence, "archive", loc.id, err)
	}
	meta.Archived = true
	v.dropFromRollup(loc.dir, loc.id)
	v.upsertRollup(dest, meta)
	pruneDay(loc.dir)
	return nil
}

// moveFile renames src to dst. A missing src counts as already moved.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if _, statErr := os.Stat(src); errors.Is(statErr, os.ErrNotExist) {
				return nil
			}
		}
		return fmt.Errorf("move %s: %w", filepath.Base(src), err)
	}
	return nil
}

// pruneDay removes a day directory left without sessions.
func pruneDay(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if _, ok := idFromName(e.Name()); ok {
			return
		}
	}
	_ = os.Remove(rollupPath(dir))
	_ = os.Remove(dir)
}

// LatestCutoff 返回最新会话的 updated_at，用于“只保留最新一个”的归档
// LatestCutoff returns the UpdatedAt of the most recent active session, so
// ArchiveEarly(LatestCutoff()) archives all but the latest. Zero when the
// vault is empty.
func (v *Vault) LatestCutoff() (time.Time, error) {
	res, err := v.List(ListOptions{Limit: 1})
	if err != nil {
		return time.Time{}, err
	}
	if len(res.Sessions) == 0 {
		return time.Time{}, nil
	}
	return res.Sessions[0].UpdatedAt, nil
}
