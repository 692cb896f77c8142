package vault

import (
	"errors"
	"sort"
	"strings"
)

// ListOptions 控制 List 的范围与过滤
type ListOptions struct {
	// Filter keeps sessions whose title or turn content contains it,
	// case-insensitively. Empty keeps everything.
	Filter string
	// Limit caps the result; zero or negative means no cap.
	Limit int
	// Archived lists the archive instead of the active sessions.
	Archived bool
}

// ListResult holds the listing plus the sessions that could not be read.
// A single bad session never hides the others.
type ListResult struct {
	Sessions []Meta
	Problems []error
}

// List 返回会话元数据，按 updated_at 从新到旧排序
// List returns session metadata sorted newest first by UpdatedAt, ties broken
// by id so the order is stable for index references.
func (v *Vault) List(opts ListOptions) (ListResult, error) {
	base := v.sessionsDir
	if opts.Archived {
		base = v.archiveDir
	}
	locs, problems := v.scan(base, opts.Archived)
	if len(locs) == 0 && len(problems) > 0 {
		return ListResult{Problems: problems}, errors.Join(problems...)
	}

	filter := strings.ToLower(strings.TrimSpace(opts.Filter))
	res := ListResult{Problems: problems}
	for _, loc := range locs {
		meta, err := v.readMeta(loc)
		if err != nil {
			res.Problems = append(res.Problems, err)
			continue
		}
		if filter != "" && !v.matches(loc, meta, filter) {
			continue
		}
		res.Sessions = append(res.Sessions, meta)
	}
	sort.SliceStable(res.Sessions, func(i, j int) bool {
		a, b := res.Sessions[i], res.Sessions[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID > b.ID
	})
	if opts.Limit > 0 && len(res.Sessions) > opts.Limit {
		res.Sessions = res.Sessions[:opts.Limit]
	}
	return res, nil
}

func (v *Vault) matches(loc location, meta Meta, filter string) bool {
	if strings.Contains(strings.ToLower(meta.DisplayTitle()), filter) ||
		strings.Contains(strings.ToLower(meta.ID), filter) {
		return true
	}
	turns, _ := v.readTurnsAt(loc)
	for _, t := range turns {
		if strings.Contains(strings.ToLower(t.Content), filter) {
			return true
		}
	}
	return false
}
