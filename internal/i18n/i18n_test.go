package i18n

import "testing"

func TestNew_English(t *testing.T) {
	i := New("en")
	if i.Locale() != "en" {
		t.Fatalf("Locale()=%q, want en", i.Locale())
	}
	if got := i.T("banner.help"); got != "type /help for commands" {
		t.Fatalf("T(banner.help)=%q", got)
	}
}

func TestNew_ChineseFromLang(t *testing.T) {
	i := New("zh_CN.UTF-8")
	if i.Locale() != "zh-CN" {
		t.Fatalf("Locale()=%q, want zh-CN", i.Locale())
	}
	if got := i.T("banner.dev"); got != "开发者模式已开启" {
		t.Fatalf("T(banner.dev)=%q", got)
	}
	// 未翻译的键回退到英文 / untranslated keys fall back to English
	if got := i.T("prompt.result"); got != "result> " {
		t.Fatalf("fallback=%q", got)
	}
}

func TestT_WithArgs(t *testing.T) {
	i := New("en")
	if got := i.T("reply.asked", "claude", "why?"); got != "asked claude: why?" {
		t.Fatalf("T with args=%q", got)
	}
}

func TestT_MissingKey(t *testing.T) {
	i := New("en")
	if got := i.T("nonexistent.key"); got != "nonexistent.key" {
		t.Fatalf("T missing key=%q, want key itself", got)
	}
}

func TestCatalogsShareKeys(t *testing.T) {
	for k := range ZhCNMessages {
		if _, ok := EnMessages[k]; !ok {
			t.Errorf("zh-CN key %q has no English entry", k)
		}
	}
}

func TestNormalizeLocale(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"en_US.UTF-8", "en"},
		{"zh_CN.UTF-8", "zh-CN"},
		{"zh_TW", "zh-CN"},
		{"C", "en"},
		{"", "en"},
		{"fr_FR", "fr-FR"},
	}
	for _, tt := range tests {
		if got := normalizeLocale(tt.input); got != tt.expected {
			t.Errorf("normalizeLocale(%q)=%q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestDetectLocalePrefersNoxLang(t *testing.T) {
	t.Setenv("LANG", "en_US.UTF-8")
	t.Setenv("LC_ALL", "")
	t.Setenv("LC_MESSAGES", "")
	t.Setenv("NOX_LANG", "zh")
	if got := DetectLocale(); got != "zh-CN" {
		t.Fatalf("DetectLocale()=%q", got)
	}
}

func TestInitReplacesGlobal(t *testing.T) {
	Init("zh-CN")
	if Global().Locale() != "zh-CN" || T("reply.any") != "任意" {
		t.Fatalf("global=%q", Global().Locale())
	}
	Init("en")
	if T("reply.any") != "any" {
		t.Fatalf("T after Init(en)=%q", T("reply.any"))
	}
}
