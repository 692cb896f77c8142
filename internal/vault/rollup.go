package vault

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

func rollupPath(dir string) string { return filepath.Join(dir, rollupFile) }

func readRollup(dir string) (DayRollup, error) {
	var r DayRollup
	if err := readJSONFile(rollupPath(dir), &r); err != nil {
		return DayRollup{}, err
	}
	if r.Sessions == nil {
		r.Sessions = map[string]Summary{}
	}
	if r.Date == "" {
		r.Date = filepath.Base(dir)
	}
	return r, nil
}

// upsertRollup records meta in its day's rollup. Failures are logged, never
// returned: the rollup can always be rebuilt from the meta files.
func (v *Vault) upsertRollup(loc location, meta Meta) {
	v.rollupMu.Lock()
	defer v.rollupMu.Unlock()

	r, err := readRollup(loc.dir)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		r = DayRollup{Date: loc.day(), Sessions: map[string]Summary{}}
	default:
		v.log.Warn("rollup unreadable, rebuilding", zap.String("dir", loc.dir), zap.Error(err))
		r, err = v.rebuildDay(loc.dir, loc.archived)
		if err != nil {
			v.log.Warn("rollup rebuild failed", zap.String("dir", loc.dir), zap.Error(err))
			return
		}
	}
	r.Sessions[meta.ID] = summaryOf(meta)
	if err := writeJSONAtomic(rollupPath(loc.dir), r); err != nil {
		v.log.Warn("rollup write failed", zap.String("dir", loc.dir), zap.Error(err))
	}
}

// dropFromRollup removes id from the rollup in dir; an emptied rollup is
// deleted.
func (v *Vault) dropFromRollup(dir, id string) {
	v.rollupMu.Lock()
	defer v.rollupMu.Unlock()

	r, err := readRollup(dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			v.log.Warn("rollup unreadable", zap.String("dir", dir), zap.Error(err))
		}
		return
	}
	delete(r.Sessions, id)
	if len(r.Sessions) == 0 {
		_ = os.Remove(rollupPath(dir))
		return
	}
	if err := writeJSONAtomic(rollupPath(dir), r); err != nil {
		v.log.Warn("rollup write failed", zap.String("dir", dir), zap.Error(err))
	}
}

// rebuildDay regenerates and writes the rollup of one day directory from its
// meta files. Call with rollupMu held.
func (v *Vault) rebuildDay(dir string, archived bool) (DayRollup, error) {
	r := DayRollup{Date: filepath.Base(dir), Sessions: map[string]Summary{}}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return DayRollup{}, err
	}
	seen := map[string]struct{}{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, ok := idFromName(e.Name())
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		meta, err := v.readMeta(location{id: id, dir: dir, archived: archived})
		if err != nil {
			v.log.Warn("skipping session in rollup", zap.String("session", id), zap.Error(err))
			continue
		}
		r.Sessions[id] = summaryOf(meta)
	}
	if err := writeJSONAtomic(rollupPath(dir), r); err != nil {
		return DayRollup{}, err
	}
	return r, nil
}

func idFromName(name string) (string, bool) {
	for _, ext := range []string{metaExt, logExt} {
		if id, ok := strings.CutSuffix(name, ext); ok && id != "" {
			return id, true
		}
	}
	return "", false
}

// Rollup 读取某天的汇总；缺失或损坏时从元数据重建
// Rollup returns the rollup of one day, rebuilding it from the meta files
// when it is missing or unreadable.
func (v *Vault) Rollup(day time.Time, archived bool) (DayRollup, error) {
	base := v.sessionsDir
	if archived {
		base = v.archiveDir
	}
	date := day.UTC().Format(dayLayout)
	dir := filepath.Join(base, date)

	v.rollupMu.Lock()
	defer v.rollupMu.Unlock()
	r, err := readRollup(dir)
	if err == nil {
		return r, nil
	}
	if _, statErr := os.Stat(dir); errors.Is(statErr, os.ErrNotExist) {
		return DayRollup{Date: date, Sessions: map[string]Summary{}}, nil
	}
	r, err = v.rebuildDay(dir, archived)
	if err != nil {
		return DayRollup{}, newError(ErrPersistence, "rollup", "", fmt.Errorf("%s: %w", date, err))
	}
	return r, nil
}

// RebuildRollups 重建所有日期目录的 rollup，返回处理的天数
// RebuildRollups regenerates every day rollup, active and archived, and
// reports how many days were written.
func (v *Vault) RebuildRollups() (int, error) {
	v.rollupMu.Lock()
	defer v.rollupMu.Unlock()

	var (
		count int
		errs  []error
	)
	for _, base := range []struct {
		dir      string
		archived bool
	}{{v.sessionsDir, false}, {v.archiveDir, true}} {
		days, err := os.ReadDir(base.dir)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		for _, day := range days {
			if !day.IsDir() {
				continue
			}
			if _, err := v.rebuildDay(filepath.Join(base.dir, day.Name()), base.archived); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", day.Name(), err))
				continue
			}
			count++
		}
	}
	if len(errs) > 0 {
		return count, newError(ErrPersistence, "rebuild rollups", "", errors.Join(errs...))
	}
	return count, nil
}
