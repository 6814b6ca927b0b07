// Package trade 定义交易意图模型与交易指令文本的解析规则。
package trade
