// Package engine 会话状态、锁、版本与级联失效的纯函数实现。
//
// 这里的函数都不做 I/O：调用方传入 SessionContext，得到修改后的值，由 services 层负责持久化。
package engine
