package devshell

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	dangerousCmdPattern      = regexp.MustCompile(`(^|[\s;&|()])(rm|mv|chmod|chown|dd|mkfs|shutdown|reboot|kill|curl|wget|sudo)([\s;&|()]|$)`)
	overwriteRedirectPattern = regexp.MustCompile(`(^|\s)(1>|2>|>)(\s*)([^\s]+)`)
)

// Risk 命令风险评估结果；Confirm=true 时需要显式确认
// Risk is the assessment of a shell command proposed by the model.
type Risk struct {
	Confirm bool
	Reason  string
}

// Assess 评估模型提出的 shell 命令；解析失败时按危险处理
// Assess classifies a command. Anything it cannot parse is treated as
// dangerous.
func Assess(command, dir string) Risk {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return Risk{}
	}
	if strings.Contains(trimmed, "$(") || strings.Contains(trimmed, "`") {
		return Risk{Confirm: true, Reason: "contains command substitution/backticks"}
	}
	if _, err := splitWords(trimmed); err != nil {
		return Risk{Confirm: true, Reason: "command parse failed (fail closed)"}
	}
	if dangerousCmdPattern.MatchString(trimmed) {
		return Risk{Confirm: true, Reason: "matches dangerous command policy"}
	}
	if target := existingRedirectTarget(trimmed, dir); target != "" {
		return Risk{Confirm: true, Reason: fmt.Sprintf("overwrite redirection target exists: %s", target)}
	}
	return Risk{}
}

func existingRedirectTarget(command, dir string) string {
	for _, m := range overwriteRedirectPattern.FindAllStringSubmatch(command, -1) {
		target := strings.Trim(m[4], `"'`)
		if target == "" {
			continue
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(dir, target)
		}
		if info, err := os.Stat(target); err == nil && !info.IsDir() {
			return target
		}
	}
	return ""
}

// splitWords tokenizes a command the way a POSIX shell would quote it.
func splitWords(input string) ([]string, error) {
	var (
		out      []string
		cur      strings.Builder
		inSingle bool
		inDouble bool
		escaped  bool
		quoted   bool
	)
	flush := func() {
		if cur.Len() > 0 || quoted {
			out = append(out, cur.String())
			cur.Reset()
			quoted = false
		}
	}
	for _, r := range input {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && !inSingle:
			escaped = true
		case r == '\'' && !inDouble:
			inSingle = !inSingle
			quoted = true
		case r == '"' && !inSingle:
			inDouble = !inDouble
			quoted = true
		case (r == ' ' || r == '\t' || r == '\n') && !inSingle && !inDouble:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	if escaped {
		return nil, errors.New("dangling escape")
	}
	if inSingle || inDouble {
		return nil, errors.New("unmatched quote")
	}
	flush()
	return out, nil
}
