package xe

import "github.com/go-orz/orz"

var (
	ErrInvalidParams     = orz.NewError(10400, "参数无效")
	ErrNotFound          = orz.NewError(10404, "数据不存在")
	ErrCurrentNotAllowed = orz.NewError(10004, "当前不允许操作")

	ErrReconcileRunning = orz.NewError(20002, "对账任务正在执行")
	ErrSymbolNotTracked = orz.NewError(20003, "交易对未在监控列表中")
)
