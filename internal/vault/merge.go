package vault

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Merge 将多个会话合并为一个新会话，输入会话保持不变
// Merge combines two or more sessions, referenced by id or list index, into
// a new concluded session. The result holds the first session's leading
// system turn, if any, followed by every non-system turn of each input in the
// order given. Inputs are left untouched. An empty title yields
// "Merged: <title> | <title> ...".
func (v *Vault) Merge(refs []string, title string) (Meta, error) {
	if len(refs) < 2 {
		return Meta{}, newError(ErrInvalidArgument, "merge", "", errors.New("need at least two sessions"))
	}

	var (
		ids    []string
		titles []string
		turns  []Turn
		seen   = map[string]struct{}{}
	)
	for i, ref := range refs {
		id, err := v.Resolve(ref)
		if err != nil {
			return Meta{}, err
		}
		if _, dup := seen[id]; dup {
			return Meta{}, newError(ErrInvalidArgument, "merge", id, errors.New("session listed twice"))
		}
		seen[id] = struct{}{}

		loc, err := v.locate(id)
		if err != nil {
			return Meta{}, err
		}
		meta, err := v.readMeta(loc)
		if err != nil {
			return Meta{}, err
		}
		src, err := v.readTurnsAt(loc)
		if err != nil {
			return Meta{}, err
		}
		for j, t := range src {
			if t.Role == RoleSystem {
				if i == 0 && j == 0 {
					turns = append(turns, t)
				}
				continue
			}
			turns = append(turns, t)
		}
		ids = append(ids, id)
		if t := strings.TrimSpace(meta.Title); t != "" {
			titles = append(titles, t)
		} else {
			titles = append(titles, id)
		}
	}

	custom := true
	title = strings.Join(strings.Fields(title), " ")
	if title == "" {
		title = "Merged: " + strings.Join(titles, " | ")
		custom = false
	}

	now := v.now().UTC()
	v.mu.Lock()
	id := v.allocateID(mergedPrefix, now)
	loc := location{id: id, dir: filepath.Join(v.sessionsDir, now.Format(dayLayout))}
	meta := Meta{
		ID:          id,
		Title:       title,
		CustomTitle: custom,
		CreatedAt:   now,
		UpdatedAt:   now,
		Turns:       len(turns),
		Sources:     ids,
		Concluded:   true,
	}
	err := createSessionFiles(loc, meta, turns)
	v.mu.Unlock()
	if err != nil {
		return Meta{}, newError(ErrPersistence, "merge", id, fmt.Errorf("write merged session: %w", err))
	}

	v.upsertRollup(loc, meta)
	v.log.Info("sessions merged", zap.String("session", id), zap.Strings("sources", ids), zap.Int("turns", len(turns)))
	return meta, nil
}
