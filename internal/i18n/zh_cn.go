package i18n

// ZhCNMessages 简体中文文案
var ZhCNMessages = map[string]string{
	"banner.header":      "nox · 模型 %s · %s",
	"banner.help":        "输入 /help 查看命令",
	"banner.dev":         "开发者模式已开启",
	"banner.resumed":     "已恢复 %s（%d 条记录）",
	"instruments.none":   "未配置 instrument",
	"instruments.manual": "手动 instrument（%s）",
	"instruments.auto":   "自动 instrument（%s）",

	"prompt.confirm":    "%s [y/N]：",
	"prompt.select":     "由哪个 instrument 回答？",
	"prompt.select_in":  "instrument [序号、名称，留空表示任意]：",
	"prompt.passphrase": "开发者口令：",

	"reply.title":    "标题：%s",
	"reply.asked":    "已询问 %s：%s",
	"reply.any":      "任意",
	"reply.shell":    "（/shell 执行）",
	"reply.error":    "错误：%s",
	"select.range":   "请输入 1-%d",
	"select.unknown": "%q 不在名单中",

	"dev.unconfigured": "未配置开发者模式（developer.passphrase）",
	"dev.wrong":        "开发者模式：口令错误",

	"input.fallback": "行编辑器不可用，改用基础输入：%v",
	"router.started": "正在处理 %s（ctrl+c 停止）",
	"router.handled": "已处理 %d 个请求",
}
