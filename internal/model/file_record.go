// Package model 包含了应用的数据模型定义。
package model

// FileRecord 是 Payload Decoder 产出的统一文件记录。
// Path 总是以 "/" 开头；同一批次内的路径唯一性由调用方保证。
type FileRecord struct {
	Path    string `json:"path"`
	Name    string `json:"name"`
	Content string `json:"content"`
}
